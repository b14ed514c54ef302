package question

import (
	"errors"
	"testing"
	"time"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/bus"
)

func waitForPending(t *testing.T, e *Engine, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(e.Pending()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d pending requests", n)
}

func TestAskRepliesWithAnswers(t *testing.T) {
	e := New(bus.New(nil))
	var answers [][]string
	var askErr error
	done := make(chan struct{})
	go func() {
		answers, askErr = e.Ask("ses_1", []Question{{Text: "pick one", Options: []Option{{Label: "a", Value: "a"}}}})
		close(done)
	}()

	waitForPending(t, e, 1)
	pending := e.Pending()
	if err := e.Reply(pending[0].ID, [][]string{{"a"}}); err != nil {
		t.Fatal(err)
	}

	<-done
	if askErr != nil {
		t.Fatal(askErr)
	}
	if len(answers) != 1 || answers[0][0] != "a" {
		t.Fatalf("answers = %+v", answers)
	}
}

func TestAskRejectReturnsRejectedError(t *testing.T) {
	e := New(bus.New(nil))
	var askErr error
	done := make(chan struct{})
	go func() {
		_, askErr = e.Ask("ses_1", []Question{{Text: "pick one"}})
		close(done)
	}()

	waitForPending(t, e, 1)
	pending := e.Pending()
	_ = e.Reject(pending[0].ID)

	<-done
	var rejected *RejectedError
	if !errors.As(askErr, &rejected) {
		t.Fatalf("expected RejectedError, got %v", askErr)
	}
}
