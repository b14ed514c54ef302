package app

import (
	"github.com/Tsukumi233/hotaru-code-sub001/internal/config"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/permission"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/tools"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/turn"
)

// agentsFromConfig converts every configured agent into a
// turn.AgentInfo, deriving its tools.AgentPolicy from the agent's
// tools{} and permission{} maps.
func agentsFromConfig(cfg *config.Config) map[string]turn.AgentInfo {
	out := make(map[string]turn.AgentInfo, len(cfg.Agent))
	for name, ac := range cfg.Agent {
		out[name] = turn.AgentInfo{
			Name:        name,
			Description: ac.Description,
			Steps:       ac.Steps,
			Temperature: ac.Temperature,
			TopP:        ac.TopP,
			Policy: tools.AgentPolicy{
				Name:        name,
				DeniedTools: deniedTools(ac.Tools),
				Permissions: rulesetFromMap(ac.Permission),
				StepLimit:   ac.Steps,
			},
		}
	}
	return out
}

func deniedTools(toolFlags map[string]bool) map[string]bool {
	denied := make(map[string]bool)
	for name, enabled := range toolFlags {
		if !enabled {
			denied[name] = true
		}
	}
	return denied
}

// rulesetFromMap turns a {permission_name: action} map (the shape
// config.AgentConfig.Permission and the simple form of the top-level
// config.Config.Permission both use) into a Ruleset that applies its
// action to every target, per spec.md §4.3's pattern/specificity
// rules: an unpatterned rule uses "*", the least specific match.
func rulesetFromMap(permissions map[string]string) permission.Ruleset {
	if len(permissions) == 0 {
		return nil
	}
	out := make(permission.Ruleset, 0, len(permissions))
	for name, action := range permissions {
		out = append(out, permission.Rule{Permission: name, Pattern: "*", Action: permission.Action(action)})
	}
	return out
}

// globalRuleset resolves cfg.Permission, which per spec.md §6 is
// either a bare action string or a {permission_name: action} map. The
// permission engine's Evaluate matches rules by exact permission name
// (internal/permission/permission.go), so a bare string has no single
// target name to attach to; it is not expanded into rules, and no
// rules result from it.
func globalRuleset(cfg *config.Config) permission.Ruleset {
	if cfg == nil || cfg.Permission == nil {
		return nil
	}
	switch v := cfg.Permission.(type) {
	case map[string]string:
		return rulesetFromMap(v)
	case map[string]any:
		converted := make(map[string]string, len(v))
		for name, action := range v {
			if s, ok := action.(string); ok {
				converted[name] = s
			}
		}
		return rulesetFromMap(converted)
	default:
		return nil
	}
}
