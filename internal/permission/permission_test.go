package permission

import (
	"errors"
	"testing"
	"time"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/bus"
)

func TestAskAllowsWhenRuleAllows(t *testing.T) {
	e := New(bus.New(nil))
	ruleset := Ruleset{{Permission: "read", Pattern: "*", Action: ActionAllow}}
	if err := e.Ask("ses_1", "p1", "read", []string{"file.txt"}, ruleset, nil, nil, "", ScopeSession); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAskDeniesSynchronously(t *testing.T) {
	e := New(bus.New(nil))
	ruleset := Ruleset{{Permission: "read", Pattern: ".env", Action: ActionDeny}}
	err := e.Ask("ses_1", "p1", "read", []string{".env"}, ruleset, nil, nil, "", ScopeSession)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
}

func TestMostSpecificPatternWins(t *testing.T) {
	ruleset := Ruleset{
		{Permission: "read", Pattern: "*", Action: ActionDeny},
		{Permission: "read", Pattern: ".env.example", Action: ActionAllow},
	}
	if Evaluate(ruleset, "read", ".env.example") != ActionAllow {
		t.Fatal("expected the more specific allow to win over the wildcard deny")
	}
	if Evaluate(ruleset, "read", ".env") != ActionDeny {
		t.Fatal("expected the wildcard deny to apply to an unrelated file")
	}
}

func TestAskOnceResolves(t *testing.T) {
	e := New(bus.New(nil))
	ruleset := Ruleset{{Permission: "list", Pattern: "*", Action: ActionAsk}}

	var askErr error
	done := make(chan struct{})
	go func() {
		askErr = e.Ask("ses_1", "p1", "list", []string{"."}, ruleset, []string{"list"}, nil, "list", ScopeSession)
		close(done)
	}()

	waitForPending(t, e, 1)
	pending := e.Pending()
	if err := e.Reply(pending[0].ID, ReplyOnce, ""); err != nil {
		t.Fatal(err)
	}

	<-done
	if askErr != nil {
		t.Fatalf("unexpected error: %v", askErr)
	}
}

func TestAskRejectReturnsRejectedError(t *testing.T) {
	e := New(bus.New(nil))
	ruleset := Ruleset{{Permission: "bash", Pattern: "*", Action: ActionAsk}}

	var askErr error
	done := make(chan struct{})
	go func() {
		askErr = e.Ask("ses_1", "p1", "bash", []string{"rm -rf /"}, ruleset, nil, nil, "bash", ScopeSession)
		close(done)
	}()

	waitForPending(t, e, 1)
	pending := e.Pending()
	_ = e.Reply(pending[0].ID, ReplyReject, "no")

	<-done
	var rejected *RejectedError
	if !errors.As(askErr, &rejected) {
		t.Fatalf("expected RejectedError, got %v", askErr)
	}
}

func TestAlwaysTransitivelyResolvesOverlappingPending(t *testing.T) {
	e := New(bus.New(nil))
	ruleset := Ruleset{{Permission: "bash", Pattern: "*", Action: ActionAsk}}

	var err1, err2 error
	done1 := make(chan struct{})
	done2 := make(chan struct{})
	go func() {
		err1 = e.Ask("ses_1", "p1", "bash", []string{"ls"}, ruleset, []string{"bash"}, nil, "bash", ScopeSession)
		close(done1)
	}()
	waitForPending(t, e, 1)
	go func() {
		err2 = e.Ask("ses_1", "p1", "bash", []string{"pwd"}, ruleset, []string{"bash"}, nil, "bash", ScopeSession)
		close(done2)
	}()
	waitForPending(t, e, 2)

	pending := e.Pending()
	if err := e.Reply(pending[0].ID, ReplyAlways, ""); err != nil {
		t.Fatal(err)
	}

	<-done1
	<-done2
	if err1 != nil || err2 != nil {
		t.Fatalf("expected both requests resolved by always approval: %v / %v", err1, err2)
	}
	if len(e.Pending()) != 0 {
		t.Fatalf("expected no pending requests left, got %d", len(e.Pending()))
	}
}

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
