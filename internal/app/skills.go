package app

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/config"
)

// Skill is a discovered skill: a directory or URL entry from
// config.SkillsConfig. Skill *execution* is an ordinary tool call
// (the "skill" tool name, protected from pruning per
// internal/session/compaction.go's PruneProtectedTools); this package
// only does discovery, matching spec.md §1's scope boundary that
// excludes individual tool implementations from the core.
type Skill struct {
	Name   string
	Path   string
	Remote bool
}

// discoverSkills lists the *.md skill files under cfg.Skills.Paths and
// records cfg.Skills.URLs as remote entries, without fetching them.
func discoverSkills(cfg config.SkillsConfig) []Skill {
	var out []Skill
	for _, dir := range cfg.Paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			out = append(out, Skill{
				Name: strings.TrimSuffix(e.Name(), ".md"),
				Path: filepath.Join(dir, e.Name()),
			})
		}
	}
	for _, url := range cfg.URLs {
		out = append(out, Skill{Name: url, Path: url, Remote: true})
	}
	return out
}
