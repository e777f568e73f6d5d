package transcription

import "context"

// Word is one word timing within a transcription result.
type Word struct {
	Word       string  `json:"word"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

// Result is the provider-normalized transcription of one audio segment.
type Result struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

// Provider transcribes one finalized audio segment. Errors are recoverable
// per-utterance; callers record them instead of propagating.
type Provider interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (*Result, error)
}
