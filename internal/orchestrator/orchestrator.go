package orchestrator

import (
	"context"
	"log/slog"
)

// Orchestrator is the compute collaborator that can forcibly remove a bot's
// compute unit. The reaper calls it after forcing a terminal transition.
type Orchestrator interface {
	DeleteComputeUnit(ctx context.Context, podName string) error
}

// Noop is used when bots run in-process rather than on orchestrated compute.
type Noop struct{}

func (Noop) DeleteComputeUnit(_ context.Context, podName string) error {
	slog.Info("no orchestrator configured; skipping compute unit delete", "pod_name", podName)
	return nil
}
