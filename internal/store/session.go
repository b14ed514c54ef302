package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/bus"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/id"
)

// Bus event type names published by the store.
const (
	EventSessionCreated    = "session.created"
	EventSessionUpdated    = "session.updated"
	EventSessionDeleted    = "session.deleted"
	EventMessageUpdated    = "message.updated"
	EventPartUpdated       = "message.part.updated"
	EventPartDelta         = "message.part.delta"
)

// SessionCreatedProps is published when a session is created.
type SessionCreatedProps struct{ Session SessionInfo }

// SessionUpdatedProps is published on every session mutation.
type SessionUpdatedProps struct{ Session SessionInfo }

// SessionDeletedProps is published after a session and its messages
// are removed.
type SessionDeletedProps struct{ SessionID string }

// MessageUpdatedProps is published whenever a MessageInfo is written.
type MessageUpdatedProps struct{ Info MessageInfo }

// PartUpdatedProps is published whenever a full Part is written.
type PartUpdatedProps struct{ Part Part }

// PartDeltaProps is published for incremental text-field streaming
// updates, so SSE clients can render partial output without
// re-fetching the whole part.
type PartDeltaProps struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	PartID    string `json:"part_id"`
	Field     string `json:"field"`
	Delta     string `json:"delta"`
}

func (p SessionCreatedProps) SessionID() string { return p.Session.ID }
func (p SessionUpdatedProps) SessionID() string { return p.Session.ID }
func (p SessionDeletedProps) SessionID() string { return p.SessionID }
func (p MessageUpdatedProps) SessionID() string { return p.Info.SessionID }
func (p PartUpdatedProps) SessionID() string    { return p.Part.Base().SessionID }

func nowMillis() int64 { return time.Now().UnixMilli() }

// Store is the structured message store: sessions, messages, and
// parts, persisted via KV and published over Bus on every mutation.
type Store struct {
	kv  *KV
	bus *bus.Bus
}

// New wraps kv and bus into a Store.
func New(kv *KV, b *bus.Bus) *Store {
	return &Store{kv: kv, bus: b}
}

func sessionKey(projectID, sessionID string) []string {
	return []string{"session", projectID, sessionID}
}

func messageKey(sessionID, messageID string) []string {
	return []string{"message", sessionID, messageID}
}

func partKey(sessionID, messageID, partID string) []string {
	return []string{"part", sessionID, messageID, partID}
}

// CreateSession creates and persists a new session, publishing
// session.created.
func (s *Store) CreateSession(projectID, agent, directory, modelID, providerID, parentID string) (*SessionInfo, error) {
	if agent == "" {
		agent = "build"
	}
	sid, err := id.Ascending(id.PrefixSession)
	if err != nil {
		return nil, err
	}
	now := nowMillis()
	info := &SessionInfo{
		ID:         sid,
		ProjectID:  projectID,
		Agent:      agent,
		Directory:  directory,
		ModelID:    modelID,
		ProviderID: providerID,
		ParentID:   parentID,
		Time:       SessionTime{Created: now, Updated: now},
	}
	if err := s.kv.Write(sessionKey(projectID, sid), info); err != nil {
		return nil, err
	}
	s.bus.Publish(EventSessionCreated, SessionCreatedProps{Session: *info})
	return info, nil
}

// GetSession looks up a session by ID. If projectID is empty the
// whole "session" prefix is scanned, matching the source's
// fallback-scan behaviour.
func (s *Store) GetSession(sessionID, projectID string) (*SessionInfo, error) {
	if projectID != "" {
		var info SessionInfo
		if err := s.kv.Read(sessionKey(projectID, sessionID), &info); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return &info, nil
	}

	keys, err := s.kv.List([]string{"session"})
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if len(k) < 3 || k[len(k)-1] != sessionID {
			continue
		}
		var info SessionInfo
		if err := s.kv.Read(k, &info); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		return &info, nil
	}
	return nil, nil
}

// ListSessions returns every session for projectID, newest-updated
// first.
func (s *Store) ListSessions(projectID string) ([]SessionInfo, error) {
	keys, err := s.kv.List([]string{"session", projectID})
	if err != nil {
		return nil, err
	}
	out := make([]SessionInfo, 0, len(keys))
	for _, k := range keys {
		var info SessionInfo
		if err := s.kv.Read(k, &info); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Updated > out[j].Time.Updated })
	return out, nil
}

// SessionUpdate carries the optional fields UpdateSession may change.
type SessionUpdate struct {
	Title      *string
	Agent      *string
	ModelID    *string
	ProviderID *string
}

// UpdateSession mutates a session's editable fields and touches its
// updated timestamp, publishing session.updated.
func (s *Store) UpdateSession(sessionID, projectID string, upd SessionUpdate) (*SessionInfo, error) {
	session, err := s.GetSession(sessionID, projectID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	var result SessionInfo
	err = s.kv.Update(sessionKey(session.ProjectID, sessionID), func(data map[string]any) {
		if upd.Title != nil {
			data["title"] = *upd.Title
		}
		if upd.Agent != nil {
			data["agent"] = *upd.Agent
		}
		if upd.ModelID != nil {
			data["model_id"] = *upd.ModelID
		}
		if upd.ProviderID != nil {
			data["provider_id"] = *upd.ProviderID
		}
		if t, ok := data["time"].(map[string]any); ok {
			t["updated"] = float64(nowMillis())
		}
	}, &result)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	s.bus.Publish(EventSessionUpdated, SessionUpdatedProps{Session: result})
	return &result, nil
}

// DeleteSession recursively deletes child sessions, all messages, and
// the session itself, publishing session.deleted.
func (s *Store) DeleteSession(sessionID, projectID string) (bool, error) {
	session, err := s.GetSession(sessionID, projectID)
	if err != nil {
		return false, err
	}
	if session == nil {
		return false, nil
	}

	children, err := s.ListSessions(session.ProjectID)
	if err != nil {
		return false, err
	}
	for _, c := range children {
		if c.ParentID == sessionID {
			if _, err := s.DeleteSession(c.ID, session.ProjectID); err != nil {
				return false, err
			}
		}
	}

	msgKeys, err := s.kv.List([]string{"message", sessionID})
	if err != nil {
		return false, err
	}
	for _, k := range msgKeys {
		if err := s.kv.Remove(k); err != nil {
			return false, err
		}
	}

	if err := s.kv.Remove(sessionKey(session.ProjectID, sessionID)); err != nil {
		return false, err
	}

	s.bus.Publish(EventSessionDeleted, SessionDeletedProps{SessionID: sessionID})
	return true, nil
}

// AddMessage persists message and touches the owning session's
// updated timestamp, publishing message.updated.
func (s *Store) AddMessage(message MessageInfo) error {
	if err := s.kv.Write(messageKey(message.SessionID, message.ID), message); err != nil {
		return err
	}

	session, err := s.GetSession(message.SessionID, "")
	if err == nil && session != nil {
		var discard SessionInfo
		_ = s.kv.Update(sessionKey(session.ProjectID, message.SessionID), func(data map[string]any) {
			if t, ok := data["time"].(map[string]any); ok {
				t["updated"] = float64(nowMillis())
			}
		}, &discard)
	}

	s.bus.Publish(EventMessageUpdated, MessageUpdatedProps{Info: message})
	return nil
}

// GetMessages returns every message for sessionID, chronologically
// ordered (message IDs are ascending-sortable).
func (s *Store) GetMessages(sessionID string) ([]MessageInfo, error) {
	keys, err := s.kv.List([]string{"message", sessionID})
	if err != nil {
		return nil, err
	}
	out := make([]MessageInfo, 0, len(keys))
	for _, k := range keys {
		var m MessageInfo
		if err := s.kv.Read(k, &m); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetMessagesWithParts returns every message for sessionID bundled with
// its parts, in the same chronological order as GetMessages.
func (s *Store) GetMessagesWithParts(sessionID string) ([]WithParts, error) {
	messages, err := s.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]WithParts, 0, len(messages))
	for _, m := range messages {
		parts, err := s.GetParts(sessionID, m.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, WithParts{Info: m, Parts: parts})
	}
	return out, nil
}

// DeleteMessages removes the named messages and their parts from
// sessionID, returning how many were actually found and removed.
func (s *Store) DeleteMessages(sessionID string, messageIDs []string) (int, error) {
	deleted := 0
	for _, mid := range messageIDs {
		key := messageKey(sessionID, mid)
		var existing MessageInfo
		if err := s.kv.Read(key, &existing); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return deleted, err
		}

		partKeys, err := s.kv.List([]string{"part", sessionID, mid})
		if err != nil {
			return deleted, err
		}
		for _, pk := range partKeys {
			if err := s.kv.Remove(pk); err != nil {
				return deleted, err
			}
		}

		if err := s.kv.Remove(key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// RestoreMessages re-inserts previously deleted messages (and their
// parts) from caller-supplied records, re-publishing message.updated
// and message.part.updated for each, returning the count restored.
func (s *Store) RestoreMessages(sessionID string, messages []WithParts) (int, error) {
	restored := 0
	for _, wp := range messages {
		if wp.Info.SessionID == "" {
			wp.Info.SessionID = sessionID
		}
		if err := s.AddMessage(wp.Info); err != nil {
			return restored, err
		}
		for _, p := range wp.Parts {
			if err := s.AddPart(p); err != nil {
				return restored, err
			}
		}
		restored++
	}
	return restored, nil
}

// AddPart persists a full part and publishes message.part.updated.
func (s *Store) AddPart(p Part) error {
	base := p.Base()
	if err := s.kv.Write(partKey(base.SessionID, base.MessageID, base.ID), p); err != nil {
		return err
	}
	s.bus.Publish(EventPartUpdated, PartUpdatedProps{Part: p})
	return nil
}

// GetParts returns every part belonging to messageID, in ID
// (creation) order.
func (s *Store) GetParts(sessionID, messageID string) ([]Part, error) {
	keys, err := s.kv.List([]string{"part", sessionID, messageID})
	if err != nil {
		return nil, err
	}
	parts := make([]Part, 0, len(keys))
	ids := make([]string, 0, len(keys))
	byID := make(map[string]Part, len(keys))
	for _, k := range keys {
		var m map[string]any
		if err := s.kv.Read(k, &m); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		encoded, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		part, err := ParsePart(encoded)
		if err != nil {
			return nil, err
		}
		pid := part.Base().ID
		ids = append(ids, pid)
		byID[pid] = part
	}
	sort.Strings(ids)
	for _, pid := range ids {
		parts = append(parts, byID[pid])
	}
	return parts, nil
}

// AppendPartDelta appends delta to the named field of an existing part
// (any field name is accepted; a missing or non-string field is
// treated as empty before the append) and publishes
// message.part.delta. It must be atomic with respect to
// concurrent readers of the same part, which KV.Update guarantees via
// its per-key lock.
func (s *Store) AppendPartDelta(sessionID, messageID, partID, field, delta string) error {
	key := partKey(sessionID, messageID, partID)
	var out map[string]any
	err := s.kv.Update(key, func(data map[string]any) {
		cur, _ := data[field].(string)
		data[field] = cur + delta
	}, &out)
	if err != nil {
		return fmt.Errorf("store: append part delta: %w", err)
	}
	s.bus.Publish(EventPartDelta, PartDeltaProps{
		SessionID: sessionID,
		MessageID: messageID,
		PartID:    partID,
		Field:     field,
		Delta:     delta,
	})
	return nil
}

// Fork creates a child session from sessionID, deep-copying messages
// and their parts up to and including fromMessageID (or the entire
// history when fromMessageID is nil), each re-assigned a fresh ID and
// re-parented to the new session.
func (s *Store) Fork(sessionID string, fromMessageID *string) (*SessionInfo, error) {
	session, err := s.GetSession(sessionID, "")
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	messages, err := s.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}

	child, err := s.CreateSession(session.ProjectID, session.Agent, session.Directory, session.ModelID, session.ProviderID, sessionID)
	if err != nil {
		return nil, err
	}

	for _, msg := range messages {
		parts, err := s.GetParts(sessionID, msg.ID)
		if err != nil {
			return nil, err
		}

		newMsgID, err := id.Ascending(id.PrefixMessage)
		if err != nil {
			return nil, err
		}
		cloned := msg
		cloned.ID = newMsgID
		cloned.SessionID = child.ID
		if err := s.AddMessage(cloned); err != nil {
			return nil, err
		}

		for _, p := range parts {
			newPartID, err := id.Ascending(id.PrefixPart)
			if err != nil {
				return nil, err
			}
			clonedPart, err := recloneWithIDs(p, child.ID, newMsgID, newPartID)
			if err != nil {
				return nil, err
			}
			if err := s.AddPart(clonedPart); err != nil {
				return nil, err
			}
		}

		if fromMessageID != nil && msg.ID == *fromMessageID {
			break
		}
	}

	return child, nil
}

func recloneWithIDs(p Part, sessionID, messageID, partID string) (Part, error) {
	data, err := MarshalPart(p)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	generic["id"] = partID
	generic["session_id"] = sessionID
	generic["message_id"] = messageID
	reencoded, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	return ParsePart(reencoded)
}
