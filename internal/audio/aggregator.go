package audio

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	soxr "github.com/zaf/resample"
)

// Segment is one finalized per-participant audio window, ready for
// transcription.
type Segment struct {
	ParticipantUUID string
	PCM             []byte
	SampleRate      int
	FirstReceivedAt time.Time
	LastReceivedAt  time.Time
	DurationMs      int64
}

type participantBuffer struct {
	pcm     []byte
	firstAt time.Time
	lastAt  time.Time
}

// Aggregator buffers short PCM chunks per participant and flushes them as
// transcription-sized segments. Buffers never mix across participants.
type Aggregator struct {
	mu         sync.Mutex
	buffers    map[string]*participantBuffer
	window     time.Duration
	quietAfter time.Duration
	targetRate int
	now        func() time.Time
}

func NewAggregator(window, quietAfter time.Duration, targetRate int) *Aggregator {
	return &Aggregator{
		buffers:    make(map[string]*participantBuffer),
		window:     window,
		quietAfter: quietAfter,
		targetRate: targetRate,
		now:        time.Now,
	}
}

// SetClock overrides the wall clock, for tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// AddChunk appends a PCM chunk to the participant's buffer, resampling to the
// aggregator's target rate when the source rate differs. Safe to call
// concurrently with Flush and with AddChunk for other participants.
func (a *Aggregator) AddChunk(participantUUID string, receivedAt time.Time, pcm []byte, sampleRate int) error {
	if len(pcm) == 0 {
		return nil
	}
	if sampleRate != a.targetRate {
		resampled, err := resamplePCM(pcm, sampleRate, a.targetRate)
		if err != nil {
			return fmt.Errorf("resample %dHz to %dHz: %w", sampleRate, a.targetRate, err)
		}
		pcm = resampled
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[participantUUID]
	if !ok {
		buf = &participantBuffer{firstAt: receivedAt}
		a.buffers[participantUUID] = buf
	}
	if len(buf.pcm) == 0 {
		buf.firstAt = receivedAt
	}
	buf.pcm = append(buf.pcm, pcm...)
	buf.lastAt = receivedAt
	return nil
}

// Flush finalizes every buffer that has accumulated a full window of audio or
// has gone quiet long enough, producing at most one segment per participant.
func (a *Aggregator) Flush() []Segment {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	var segments []Segment
	for id, buf := range a.buffers {
		if len(buf.pcm) == 0 {
			continue
		}
		duration := a.bufferedDuration(buf)
		if duration < a.window && now.Sub(buf.lastAt) < a.quietAfter {
			continue
		}
		segments = append(segments, a.drainLocked(id, buf))
	}
	return segments
}

// FlushAll finalizes every non-empty buffer regardless of age, for teardown.
func (a *Aggregator) FlushAll() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()

	var segments []Segment
	for id, buf := range a.buffers {
		if len(buf.pcm) == 0 {
			continue
		}
		segments = append(segments, a.drainLocked(id, buf))
	}
	return segments
}

func (a *Aggregator) drainLocked(id string, buf *participantBuffer) Segment {
	seg := Segment{
		ParticipantUUID: id,
		PCM:             buf.pcm,
		SampleRate:      a.targetRate,
		FirstReceivedAt: buf.firstAt,
		LastReceivedAt:  buf.lastAt,
		DurationMs:      a.bufferedDuration(buf).Milliseconds(),
	}
	buf.pcm = nil
	return seg
}

func (a *Aggregator) bufferedDuration(buf *participantBuffer) time.Duration {
	samples := len(buf.pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(a.targetRate)
}

func resamplePCM(pcm []byte, fromRate, toRate int) ([]byte, error) {
	var out bytes.Buffer
	r, err := soxr.New(&out, float64(fromRate), float64(toRate), 1, soxr.I16, soxr.MediumQ)
	if err != nil {
		return nil, err
	}
	if _, err := r.Write(pcm); err != nil {
		_ = r.Close()
		return nil, err
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
