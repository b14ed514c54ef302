package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/bus"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/permission"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/question"
)

func newTestRuntime(t *testing.T) (*Runtime, *bus.Bus) {
	t.Helper()
	b := bus.New(nil)
	perm := permission.New(b)
	ques := question.New(b)
	return NewRuntime(b, perm, ques, nil), b
}

func TestStartRejectsSecondTaskForSameSession(t *testing.T) {
	rt, _ := newTestRuntime(t)
	started := make(chan struct{})
	release := make(chan struct{})

	err := rt.Start(context.Background(), "ses1", func(ctx context.Context) {
		close(started)
		<-release
	})
	if err != nil {
		t.Fatal(err)
	}
	<-started

	if err := rt.Start(context.Background(), "ses1", func(ctx context.Context) {}); err == nil {
		t.Fatal("expected error starting a second task for the same session")
	}

	close(release)
}

func TestInterruptCancelsAndWaits(t *testing.T) {
	rt, _ := newTestRuntime(t)
	started := make(chan struct{})
	cancelled := make(chan struct{})

	err := rt.Start(context.Background(), "ses1", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	if err != nil {
		t.Fatal(err)
	}
	<-started

	rt.Interrupt("ses1", "")

	select {
	case <-cancelled:
	default:
		t.Fatal("expected task context to be cancelled")
	}
	if rt.Running("ses1") {
		t.Fatal("expected task to be unregistered after interrupt")
	}
}

func TestInterruptRejectsPendingQuestionsForSession(t *testing.T) {
	rt, b := newTestRuntime(t)
	ques := question.New(b)
	rt.ques = ques

	var wg sync.WaitGroup
	wg.Add(1)
	var askErr error
	go func() {
		defer wg.Done()
		_, err := ques.Ask("ses1", []question.Question{{Text: "continue?"}})
		askErr = err
	}()

	time.Sleep(20 * time.Millisecond)
	rt.Interrupt("ses1", "")
	wg.Wait()

	if askErr == nil {
		t.Fatal("expected Ask to return an error once rejected")
	}
}

func TestShutdownCancelsAllTasks(t *testing.T) {
	rt, _ := newTestRuntime(t)
	var wg sync.WaitGroup
	for _, sid := range []string{"a", "b", "c"} {
		wg.Add(1)
		err := rt.Start(context.Background(), sid, func(ctx context.Context) {
			defer wg.Done()
			<-ctx.Done()
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan struct{})
	go func() {
		rt.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return in time")
	}
	wg.Wait()
}

func TestSessionStatusPublished(t *testing.T) {
	b := bus.New(nil)
	rt := NewRuntime(b, nil, nil, nil)

	var mu sync.Mutex
	var events []string
	gotWorking := make(chan struct{})
	release := make(chan struct{})

	b.Subscribe(EventSessionStatus, func(e bus.Event) {
		props, ok := e.Properties.(SessionStatusProps)
		if !ok {
			return
		}
		mu.Lock()
		events = append(events, string(props.Status))
		mu.Unlock()
		if props.Status == SessionWorking {
			close(gotWorking)
		}
	})

	if err := rt.Start(context.Background(), "ses1", func(ctx context.Context) {
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-gotWorking
	close(release)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != "working" || events[1] != "idle" {
		t.Fatalf("got events %v", events)
	}
}
