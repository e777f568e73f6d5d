package captions

import (
	"sync"
	"time"

	"github.com/intellecta-lk/attendee/internal/adapter"
)

// Final is one finalized closed-caption utterance for a single speaker.
type Final struct {
	CaptionID   string
	SpeakerUUID string
	Text        string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

type inflight struct {
	speakerUUID string
	text        string
	firstSeenAt time.Time
	lastSeenAt  time.Time
}

// Buffer accumulates progressively-extended partial captions keyed by the
// platform caption ID and finalizes them on the final flag or after a
// debounce window without updates. A finalized ID is never reopened.
type Buffer struct {
	mu        sync.Mutex
	inflight  map[string]*inflight
	finalized map[string]struct{}
	debounce  time.Duration
	now       func() time.Time
}

func NewBuffer(debounce time.Duration) *Buffer {
	return &Buffer{
		inflight:  make(map[string]*inflight),
		finalized: make(map[string]struct{}),
		debounce:  debounce,
		now:       time.Now,
	}
}

func (b *Buffer) SetClock(now func() time.Time) {
	b.now = now
}

// Upsert records a partial or final caption update. It returns a non-nil
// Final only when this update closes the caption. Updates for already
// finalized IDs are dropped.
func (b *Buffer) Upsert(u adapter.CaptionUpdate) *Final {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, done := b.finalized[u.CaptionID]; done {
		return nil
	}
	now := b.now()
	entry, ok := b.inflight[u.CaptionID]
	if !ok {
		entry = &inflight{speakerUUID: u.SpeakerUUID, firstSeenAt: now}
		b.inflight[u.CaptionID] = entry
	}
	entry.text = u.Text
	entry.lastSeenAt = now
	if u.SpeakerUUID != "" {
		entry.speakerUUID = u.SpeakerUUID
	}
	if !u.Final {
		return nil
	}
	return b.finalizeLocked(u.CaptionID, entry)
}

// FlushStale finalizes every in-flight caption that has not been updated
// within the debounce window.
func (b *Buffer) FlushStale() []Final {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var finals []Final
	for id, entry := range b.inflight {
		if now.Sub(entry.lastSeenAt) < b.debounce {
			continue
		}
		if f := b.finalizeLocked(id, entry); f != nil {
			finals = append(finals, *f)
		}
	}
	return finals
}

// FlushAll finalizes everything still in flight, for teardown.
func (b *Buffer) FlushAll() []Final {
	b.mu.Lock()
	defer b.mu.Unlock()

	var finals []Final
	for id, entry := range b.inflight {
		if f := b.finalizeLocked(id, entry); f != nil {
			finals = append(finals, *f)
		}
	}
	return finals
}

func (b *Buffer) finalizeLocked(id string, entry *inflight) *Final {
	delete(b.inflight, id)
	b.finalized[id] = struct{}{}
	if entry.text == "" {
		return nil
	}
	return &Final{
		CaptionID:   id,
		SpeakerUUID: entry.speakerUUID,
		Text:        entry.text,
		FirstSeenAt: entry.firstSeenAt,
		LastSeenAt:  entry.lastSeenAt,
	}
}
