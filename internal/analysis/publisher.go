package analysis

import (
	"context"
	"time"

	"github.com/tvidz/inspector/internal/session"
)

// DefaultPublishInterval bounds how often a subscriber's session is
// re-read. Updates between polls coalesce into the next emission.
const DefaultPublishInterval = 200 * time.Millisecond

// minProgressDelta filters emissions driven by progress alone.
const minProgressDelta = 0.01

// Publisher fans session snapshots out to streaming subscribers. Each
// subscriber gets its own channel and its own poll loop; a slow
// consumer never stalls another.
type Publisher struct {
	sessions *session.Store
	interval time.Duration
}

func NewPublisher(sessions *session.Store, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	return &Publisher{sessions: sessions, interval: interval}
}

// Subscribe streams snapshots of the newest session for filename. The
// first snapshot is emitted immediately; after that, a snapshot is
// emitted only when something observable changed. The channel closes
// after the terminal snapshot has been delivered, or when ctx ends.
//
// A filename with no session yet yields a synthetic pending snapshot,
// and the loop keeps polling so a session created later is picked up.
func (p *Publisher) Subscribe(ctx context.Context, filename string) <-chan session.Session {
	ch := make(chan session.Session, 1)
	go p.stream(ctx, filename, ch)
	return ch
}

func (p *Publisher) stream(ctx context.Context, filename string, ch chan<- session.Session) {
	defer close(ch)

	last, known := p.current(filename)
	if !p.send(ctx, ch, last) {
		return
	}
	if known && last.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap, ok := p.current(filename)
		if changed(last, snap) {
			if !p.send(ctx, ch, snap) {
				return
			}
			last = snap
		}
		if ok && snap.Status.IsTerminal() {
			return
		}
	}
}

func (p *Publisher) current(filename string) (session.Session, bool) {
	if snap, ok := p.sessions.Latest(filename); ok {
		return snap, true
	}
	return session.Session{Filename: filename, Status: session.StatusPending}, false
}

func (p *Publisher) send(ctx context.Context, ch chan<- session.Session, snap session.Session) bool {
	select {
	case ch <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}

// changed reports whether a new snapshot is worth emitting. Terminal
// transitions always are; mid-flight, only status, new cuts, new
// duplicates or a visible progress step count.
func changed(last, next session.Session) bool {
	if next.Status != last.Status {
		return true
	}
	if next.ID != last.ID {
		return true
	}
	if len(next.Cuts) != len(last.Cuts) {
		return true
	}
	if len(next.Duplicates) != len(last.Duplicates) {
		return true
	}
	if next.Error != last.Error {
		return true
	}
	delta := next.Progress - last.Progress
	if delta < 0 {
		delta = -delta
	}
	return delta >= minProgressDelta
}
