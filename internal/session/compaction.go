package session

import (
	"github.com/Tsukumi233/hotaru-code-sub001/internal/config"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/id"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/store"
)

// CompactionBuffer is the headroom reserved below a model's reported
// limit before compaction is considered necessary.
const CompactionBuffer = 20_000

// PruneMinimum is the smallest total of prunable bytes worth acting
// on; below it Prune is a no-op.
const PruneMinimum = 20_000

// PruneProtect is how many trailing bytes of tool output, scanned
// newest-first, are never pruned regardless of age.
const PruneProtect = 40_000

// PruneProtectedTools names tools whose output is never pruned.
var PruneProtectedTools = map[string]bool{"skill": true}

// CompactAgentName is the agent used to run the summarisation step.
const CompactAgentName = "compaction"

// Compaction implements overflow detection, compaction-request
// bookkeeping, and history pruning over a Store.
type Compaction struct {
	store *store.Store
}

// NewCompaction constructs a Compaction bound to s.
func NewCompaction(s *store.Store) *Compaction {
	return &Compaction{store: s}
}

// IsOverflow reports whether tokens has crossed the point at which
// compaction must run before the next turn, per the overflow-threshold
// formula: reserved = min(CompactionBuffer, model.Output); usable =
// (model.Input or model.Context − model.Output) − reserved; overflow
// when tokens.Total() >= max(usable, 1).
//
// cfg.Auto == false disables compaction entirely; a non-positive
// context limit means the model is unbounded and never overflows.
func (c *Compaction) IsOverflow(tokens store.TokenUsage, model ModelInfo, cfg *config.CompactionConfig) bool {
	if cfg != nil && cfg.Auto != nil && !*cfg.Auto {
		return false
	}
	if model.Limits.Context <= 0 && model.Limits.Input <= 0 {
		return false
	}

	reserved := model.Limits.Output
	if CompactionBuffer < reserved {
		reserved = CompactionBuffer
	}

	var base int64
	if model.Limits.Input > 0 {
		base = model.Limits.Input
	} else {
		base = model.Limits.Context - model.Limits.Output
	}
	usable := base - reserved
	if usable < 1 {
		usable = 1
	}

	return tokens.Total() >= usable
}

// CreateRequest persists the user message + CompactionPart that opens
// a compaction window, returning the new message's ID. When
// messageID is non-empty the request is anchored to that existing
// message instead of minting a new one (the user-requested "/compact"
// path reusing the triggering turn).
func (c *Compaction) CreateRequest(sessionID, agent, providerID, modelID string, auto bool, messageID string) (string, error) {
	msgID := messageID
	if msgID == "" {
		var err error
		msgID, err = id.Ascending(id.PrefixMessage)
		if err != nil {
			return "", err
		}
		model := &store.ModelRef{ProviderID: providerID, ModelID: modelID}
		if err := c.store.AddMessage(store.MessageInfo{
			ID:        msgID,
			SessionID: sessionID,
			Role:      store.RoleUser,
			Agent:     agent,
			Model:     model,
			Time:      store.MessageTime{Created: nowMillis()},
		}); err != nil {
			return "", err
		}
	}

	partID, err := id.Ascending(id.PrefixPart)
	if err != nil {
		return "", err
	}
	if err := c.store.AddPart(store.CompactionPart{
		PartBase: store.PartBase{ID: partID, SessionID: sessionID, MessageID: msgID, Type: store.PartTypeCompaction},
		Auto:     auto,
	}); err != nil {
		return "", err
	}
	return msgID, nil
}

// PendingRequest describes an outstanding compaction window that has
// not yet received its summary reply.
type PendingRequest struct {
	UserMessageID string
	Auto          bool
}

// Pending returns the newest unanswered compaction request for
// sessionID, or nil if none is outstanding.
func (c *Compaction) Pending(sessionID string) (*PendingRequest, error) {
	infos, err := c.store.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}

	for i := len(infos) - 1; i >= 0; i-- {
		info := infos[i]
		if info.Role != store.RoleUser {
			continue
		}
		parts, err := c.store.GetParts(sessionID, info.ID)
		if err != nil {
			return nil, err
		}
		var cp *store.CompactionPart
		for _, p := range parts {
			if part, ok := p.(store.CompactionPart); ok {
				cp = &part
				break
			}
		}
		if cp == nil {
			continue
		}
		if hasAnsweredBy(infos, info.ID) {
			continue
		}
		return &PendingRequest{UserMessageID: info.ID, Auto: cp.Auto}, nil
	}
	return nil, nil
}

func hasAnsweredBy(infos []store.MessageInfo, userMessageID string) bool {
	for _, info := range infos {
		if info.Role == store.RoleAssistant && info.ParentID == userMessageID && info.Summary {
			return true
		}
	}
	return false
}

// Prune scans sessionID's history newest-first and marks old,
// non-protected completed tool output as compacted once the
// accumulated prunable size exceeds PruneProtect, skipping the most
// recent two user turns and stopping entirely once a prior summary
// message is reached. It is a no-op unless the total prunable size
// exceeds PruneMinimum.
func (c *Compaction) Prune(sessionID string, cfg *config.CompactionConfig) error {
	if cfg != nil && cfg.Prune != nil && !*cfg.Prune {
		return nil
	}

	infos, err := c.store.GetMessages(sessionID)
	if err != nil {
		return err
	}

	type candidate struct {
		messageID string
		part      store.ToolPart
	}
	var candidates []candidate
	var total, pruned int64
	turns := 0

	for i := len(infos) - 1; i >= 0; i-- {
		info := infos[i]
		if info.Role == store.RoleUser {
			turns++
		}
		if turns < 2 {
			continue
		}
		if info.Role == store.RoleAssistant && info.Summary {
			break
		}

		parts, err := c.store.GetParts(sessionID, info.ID)
		if err != nil {
			return err
		}
		for j := len(parts) - 1; j >= 0; j-- {
			tp, ok := parts[j].(store.ToolPart)
			if !ok {
				continue
			}
			if tp.State.Status != store.ToolCompleted {
				continue
			}
			if PruneProtectedTools[tp.Tool] {
				continue
			}
			if tp.State.Time.Compacted != nil {
				break
			}

			estimate := int64(len(tp.State.Output))
			total += estimate
			if total > PruneProtect {
				pruned += estimate
				candidates = append(candidates, candidate{messageID: info.ID, part: tp})
			}
		}
	}

	if pruned <= PruneMinimum {
		return nil
	}

	now := nowMillis()
	for _, cand := range candidates {
		tp := cand.part
		tp.State.Time.Compacted = &now
		if err := c.store.AddPart(tp); err != nil {
			return err
		}
	}
	return nil
}
