package store

import (
	"encoding/json"
	"fmt"
)

// MarshalPart serialises any Part variant to JSON, discriminated by
// its "type" field (already embedded via PartBase).
func MarshalPart(p Part) ([]byte, error) {
	return json.Marshal(p)
}

// ParsePart decodes a JSON part envelope into its concrete variant
// based on the "type" discriminator, mirroring the source's
// Part adapter / parse_part helper. Unknown variants are rejected.
func ParsePart(data []byte) (Part, error) {
	var base PartBase
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("store: parse part envelope: %w", err)
	}

	switch base.Type {
	case PartTypeText:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypeReasoning:
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypeTool:
		var p ToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypeFile:
		var p FilePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypeStepStart:
		var p StepStartPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypeStepFinish:
		var p StepFinishPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypePatch:
		var p PatchPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypeCompaction:
		var p CompactionPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypeSubtask:
		var p SubtaskPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("store: unknown part type %q", base.Type)
	}
}
