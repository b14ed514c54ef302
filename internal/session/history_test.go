package session

import (
	"encoding/json"
	"testing"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/id"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/store"
)

func TestLoadHistoryFlattensTextAndToolParts(t *testing.T) {
	s := newTestStore(t)
	sessionInfo, err := s.CreateSession("p1", "build", "", "", "", "")
	if err != nil {
		t.Fatal(err)
	}

	userID, _ := id.Ascending(id.PrefixMessage)
	if err := s.AddMessage(store.MessageInfo{ID: userID, SessionID: sessionInfo.ID, Role: store.RoleUser}); err != nil {
		t.Fatal(err)
	}
	textPartID, _ := id.Ascending(id.PrefixPart)
	if err := s.AddPart(store.TextPart{
		PartBase: store.PartBase{ID: textPartID, SessionID: sessionInfo.ID, MessageID: userID, Type: store.PartTypeText},
		Text:     "hello",
	}); err != nil {
		t.Fatal(err)
	}

	assistantID, _ := id.Ascending(id.PrefixMessage)
	if err := s.AddMessage(store.MessageInfo{ID: assistantID, SessionID: sessionInfo.ID, Role: store.RoleAssistant, ParentID: userID, Agent: "build"}); err != nil {
		t.Fatal(err)
	}
	toolPartID, _ := id.Ascending(id.PrefixPart)
	if err := s.AddPart(store.ToolPart{
		PartBase: store.PartBase{ID: toolPartID, SessionID: sessionInfo.ID, MessageID: assistantID, Type: store.PartTypeTool},
		Tool:     "read_file",
		CallID:   "call_1",
		State:    store.ToolState{Status: store.ToolCompleted, Output: "file contents", Input: json.RawMessage(`{"path":"a.go"}`)},
	}); err != nil {
		t.Fatal(err)
	}

	messages, lastAgent, err := LoadHistory(s, sessionInfo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if lastAgent != "build" {
		t.Fatalf("got last agent %q", lastAgent)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages (user, assistant-with-call, tool-result), got %d: %+v", len(messages), messages)
	}
	if messages[0].Role != "user" || messages[0].Content != "hello" {
		t.Fatalf("unexpected user message: %+v", messages[0])
	}
	if messages[1].Role != "assistant" || len(messages[1].ToolCalls) != 1 || messages[1].ToolCalls[0].Name != "read_file" {
		t.Fatalf("unexpected assistant message: %+v", messages[1])
	}
	if messages[2].Role != "tool" || messages[2].Content != "file contents" || messages[2].ToolCallID != "call_1" {
		t.Fatalf("unexpected tool message: %+v", messages[2])
	}
}

func TestLoadHistorySkipsIgnoredText(t *testing.T) {
	s := newTestStore(t)
	sessionInfo, _ := s.CreateSession("p1", "build", "", "", "", "")

	userID, _ := id.Ascending(id.PrefixMessage)
	if err := s.AddMessage(store.MessageInfo{ID: userID, SessionID: sessionInfo.ID, Role: store.RoleUser}); err != nil {
		t.Fatal(err)
	}
	partID, _ := id.Ascending(id.PrefixPart)
	if err := s.AddPart(store.TextPart{
		PartBase: store.PartBase{ID: partID, SessionID: sessionInfo.ID, MessageID: userID, Type: store.PartTypeText},
		Text:     "ignored",
		Ignored:  true,
	}); err != nil {
		t.Fatal(err)
	}

	messages, _, err := LoadHistory(s, sessionInfo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected ignored text to produce no message, got %+v", messages)
	}
}

func TestLoadHistoryRespectsCompactionBoundary(t *testing.T) {
	s := newTestStore(t)
	sessionInfo, _ := s.CreateSession("p1", "build", "", "", "", "")

	oldUserID, _ := id.Ascending(id.PrefixMessage)
	s.AddMessage(store.MessageInfo{ID: oldUserID, SessionID: sessionInfo.ID, Role: store.RoleUser})
	oldPartID, _ := id.Ascending(id.PrefixPart)
	s.AddPart(store.TextPart{PartBase: store.PartBase{ID: oldPartID, SessionID: sessionInfo.ID, MessageID: oldUserID, Type: store.PartTypeText}, Text: "old message"})

	compactUserID, _ := id.Ascending(id.PrefixMessage)
	s.AddMessage(store.MessageInfo{ID: compactUserID, SessionID: sessionInfo.ID, Role: store.RoleUser})
	compactPartID, _ := id.Ascending(id.PrefixPart)
	s.AddPart(store.CompactionPart{PartBase: store.PartBase{ID: compactPartID, SessionID: sessionInfo.ID, MessageID: compactUserID, Type: store.PartTypeCompaction}})

	summaryID, _ := id.Ascending(id.PrefixMessage)
	s.AddMessage(store.MessageInfo{ID: summaryID, SessionID: sessionInfo.ID, Role: store.RoleAssistant, ParentID: compactUserID, Summary: true})
	summaryPartID, _ := id.Ascending(id.PrefixPart)
	s.AddPart(store.TextPart{PartBase: store.PartBase{ID: summaryPartID, SessionID: sessionInfo.ID, MessageID: summaryID, Type: store.PartTypeText}, Text: "summary text"})

	messages, _, err := LoadHistory(s, sessionInfo.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range messages {
		if m.Content == "old message" {
			t.Fatal("expected pre-compaction message to be filtered out")
		}
	}
}
