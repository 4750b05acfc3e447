package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/tvidz/inspector/internal/session"
)

const testPublishInterval = 10 * time.Millisecond

func collect(t *testing.T, ch <-chan session.Session, timeout time.Duration) []session.Session {
	t.Helper()
	var got []session.Session
	deadline := time.After(timeout)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, snap)
		case <-deadline:
			t.Fatalf("stream did not close, %d snapshots received", len(got))
		}
	}
}

func TestSubscribe_UnknownFilenameEmitsPending(t *testing.T) {
	pub := NewPublisher(session.NewStore(), testPublishInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := pub.Subscribe(ctx, "ghost.mp4")

	select {
	case snap := <-ch:
		if snap.Status != session.StatusPending {
			t.Errorf("status = %q, want %q", snap.Status, session.StatusPending)
		}
		if snap.Filename != "ghost.mp4" {
			t.Errorf("filename = %q, want ghost.mp4", snap.Filename)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot emitted")
	}
}

func TestSubscribe_PicksUpLateSession(t *testing.T) {
	store := session.NewStore()
	pub := NewPublisher(store, testPublishInterval)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch := pub.Subscribe(ctx, "late.mp4")

	// The session only appears after the subscriber is already polling.
	go func() {
		time.Sleep(3 * testPublishInterval)
		store.Create("late-1", "late.mp4")
		store.SetAnalyzing("late-1")
		store.Finish("late-1", session.StatusDone, "")
	}()

	got := collect(t, ch, 5*time.Second)
	if len(got) < 2 {
		t.Fatalf("snapshots = %d, want at least pending + terminal", len(got))
	}
	if got[0].Status != session.StatusPending {
		t.Errorf("first status = %q, want %q", got[0].Status, session.StatusPending)
	}
	last := got[len(got)-1]
	if last.Status != session.StatusDone {
		t.Errorf("final status = %q, want %q", last.Status, session.StatusDone)
	}
}

func TestSubscribe_EmitsOnlyOnChange(t *testing.T) {
	store := session.NewStore()
	store.Create("s1", "clip.mp4")
	store.SetAnalyzing("s1")
	pub := NewPublisher(store, testPublishInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := pub.Subscribe(ctx, "clip.mp4")

	// Let several idle polls pass, mutate once, then finish.
	time.Sleep(5 * testPublishInterval)
	store.AppendCut("s1", 1.2)
	time.Sleep(5 * testPublishInterval)
	store.Finish("s1", session.StatusDone, "")

	got := collect(t, ch, 5*time.Second)

	// Initial analyzing snapshot, the cut, the terminal state. Idle
	// polls must not produce emissions.
	if len(got) != 3 {
		t.Fatalf("snapshots = %d (%+v), want 3", len(got), got)
	}
	if got[0].Status != session.StatusAnalyzing || len(got[0].Cuts) != 0 {
		t.Errorf("first snapshot = %+v, want analyzing with no cuts", got[0])
	}
	if len(got[1].Cuts) != 1 {
		t.Errorf("second snapshot cuts = %v, want one entry", got[1].Cuts)
	}
	if got[2].Status != session.StatusDone {
		t.Errorf("final status = %q, want %q", got[2].Status, session.StatusDone)
	}
}

func TestSubscribe_ClosesAfterTerminalSnapshot(t *testing.T) {
	store := session.NewStore()
	store.Create("s1", "clip.mp4")
	store.Finish("s1", session.StatusError, "detector failed")
	pub := NewPublisher(store, testPublishInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := collect(t, pub.Subscribe(ctx, "clip.mp4"), 5*time.Second)

	if len(got) != 1 {
		t.Fatalf("snapshots = %d, want exactly the terminal one", len(got))
	}
	if got[0].Status != session.StatusError || got[0].Error == "" {
		t.Errorf("snapshot = %+v, want error status with message", got[0])
	}
}

func TestSubscribe_IndependentSubscribers(t *testing.T) {
	store := session.NewStore()
	store.Create("s1", "clip.mp4")
	store.SetAnalyzing("s1")
	pub := NewPublisher(store, testPublishInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch1 := pub.Subscribe(ctx, "clip.mp4")
	ch2 := pub.Subscribe(ctx, "clip.mp4")

	time.Sleep(3 * testPublishInterval)
	store.Finish("s1", session.StatusDone, "")

	got1 := collect(t, ch1, 5*time.Second)
	got2 := collect(t, ch2, 5*time.Second)

	for i, got := range [][]session.Session{got1, got2} {
		if len(got) == 0 {
			t.Fatalf("subscriber %d received nothing", i+1)
		}
		if got[len(got)-1].Status != session.StatusDone {
			t.Errorf("subscriber %d final status = %q, want done", i+1, got[len(got)-1].Status)
		}
	}
}

func TestSubscribe_CancelledContextStopsStream(t *testing.T) {
	store := session.NewStore()
	store.Create("s1", "clip.mp4")
	store.SetAnalyzing("s1")
	pub := NewPublisher(store, testPublishInterval)

	ctx, cancel := context.WithCancel(context.Background())
	ch := pub.Subscribe(ctx, "clip.mp4")

	// Drain the initial snapshot, then walk away.
	<-ch
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// One in-flight snapshot may still be buffered; the next
			// receive must observe the close.
			if _, ok := <-ch; ok {
				t.Error("stream kept emitting after context cancellation")
			}
		}
	case <-time.After(time.Second):
		t.Error("stream did not close after context cancellation")
	}
}
