package toolexec

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/permission"
)

// DoomLoopDetector watches each session's recent tool-call signatures
// and asks for confirmation once the same call repeats threshold times
// in a row, mirroring the original session's doom_loop.py ring buffer.
type DoomLoopDetector struct {
	permission *permission.Engine
	threshold  int
	window     int

	mu      sync.Mutex
	history map[string][]string
}

// NewDoomLoopDetector creates a detector keeping the last window
// signatures per session, flagging a repeat once threshold identical
// signatures land in a row.
func NewDoomLoopDetector(perm *permission.Engine, threshold, window int) *DoomLoopDetector {
	return &DoomLoopDetector{
		permission: perm,
		threshold:  threshold,
		window:     window,
		history:    make(map[string][]string),
	}
}

// signature mirrors f"{tool_name}:{json.dumps(tool_input, sort_keys=True)}".
func signature(toolName string, input json.RawMessage) string {
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return toolName + ":" + string(input)
	}
	normalized := sortKeysDeep(decoded)
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return toolName + ":" + string(input)
	}
	return toolName + ":" + string(encoded)
}

// sortKeysDeep produces a value whose map keys marshal in sorted
// order; Go's encoding/json already sorts map[string]any keys, so this
// just needs to preserve that property through nested structures.
func sortKeysDeep(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = sortKeysDeep(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = sortKeysDeep(e)
		}
		return out
	default:
		return val
	}
}

// Check records this call's signature and, if the last threshold calls
// in this session are all identical, synchronously asks for
// confirmation via the permission engine. asked reports whether a
// confirmation round happened at all; outcome is non-nil only when
// that confirmation was denied or rejected, in which case the caller
// should return it directly instead of executing the tool.
func (d *DoomLoopDetector) Check(sessionID, toolName string, input json.RawMessage) (outcome *Outcome, asked bool) {
	sig := signature(toolName, input)

	d.mu.Lock()
	hist := append(d.history[sessionID], sig)
	if len(hist) > d.window {
		hist = hist[len(hist)-d.window:]
	}
	d.history[sessionID] = hist
	repeated := d.isRepeating(hist)
	d.mu.Unlock()

	if !repeated {
		return nil, false
	}

	ruleset := permission.Ruleset{{Permission: "doom_loop", Pattern: "*", Action: permission.ActionAsk}}
	err := d.permission.Ask(sessionID, "", "doom_loop", []string{toolName}, ruleset, nil,
		map[string]any{"tool": toolName, "repeated": d.threshold}, toolName, permission.ScopeTurn)
	if err != nil {
		return &Outcome{Error: err.Error(), Blocked: true}, true
	}
	return nil, true
}

func (d *DoomLoopDetector) isRepeating(hist []string) bool {
	if len(hist) < d.threshold {
		return false
	}
	tail := hist[len(hist)-d.threshold:]
	first := tail[0]
	for _, s := range tail[1:] {
		if s != first {
			return false
		}
	}
	return true
}
