// Package config loads the on-disk YAML configuration plus
// environment variable overrides. Keys are decoded into the typed
// Config struct; unknown keys are ignored and no further validation is
// performed.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PermissionMemoryScope is the closed set of scopes an "always"
// permission approval can be remembered at.
type PermissionMemoryScope string

const (
	ScopeTurn      PermissionMemoryScope = "turn"
	ScopeSession   PermissionMemoryScope = "session"
	ScopeProject   PermissionMemoryScope = "project"
	ScopePersisted PermissionMemoryScope = "persisted"
)

// ShareMode is a passthrough surface field (SPEC_FULL.md §9): parsed
// and stored, never acted on by the core.
type ShareMode string

const (
	ShareManual   ShareMode = "manual"
	ShareAuto     ShareMode = "auto"
	ShareDisabled ShareMode = "disabled"
)

// LoggingConfig controls the ambient slog setup.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Console  bool   `yaml:"console"`
	File     string `yaml:"file"`
	AccessLog bool  `yaml:"access_log"`
	DevFile  string `yaml:"dev_file"`
}

// ProviderConfig configures one LLM provider credential/endpoint.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AgentConfig configures one named agent's policy defaults.
type AgentConfig struct {
	Description string            `yaml:"description"`
	Steps       int               `yaml:"steps"`
	Temperature *float64          `yaml:"temperature"`
	TopP        *float64          `yaml:"top_p"`
	Permission  map[string]string `yaml:"permission"`
	Tools       map[string]bool   `yaml:"tools"`
}

// SkillsConfig configures skill discovery.
type SkillsConfig struct {
	Paths []string `yaml:"paths"`
	URLs  []string `yaml:"urls"`
}

// ServerConfig configures the HTTP/SSE facade's listener.
type ServerConfig struct {
	Port     int      `yaml:"port"`
	Hostname string   `yaml:"hostname"`
	MDNS     bool     `yaml:"mdns"`
	MDNSDomain string `yaml:"mdns_domain"`
	CORS     []string `yaml:"cors"`
}

// TUIConfig configures the terminal UI front-end (passthrough; the
// TUI itself is out of scope per spec.md §1).
type TUIConfig struct {
	ScrollSpeed int    `yaml:"scroll_speed"`
	DiffStyle   string `yaml:"diff_style"`
}

// ExperimentalConfig gates in-development feature flags.
type ExperimentalConfig struct {
	BatchTool    bool     `yaml:"batch_tool"`
	PlanMode     bool     `yaml:"plan_mode"`
	EnableExa    bool     `yaml:"enable_exa"`
	LSPTool      bool     `yaml:"lsp_tool"`
	PrimaryTools []string `yaml:"primary_tools"`
}

// CompactionConfig tunes the session compaction behaviour.
type CompactionConfig struct {
	Auto     *bool `yaml:"auto"`
	Prune    *bool `yaml:"prune"`
	Reserved int   `yaml:"reserved"`
}

// Config is the full recognised configuration surface.
type Config struct {
	Theme               string                    `yaml:"theme"`
	LogLevel            string                    `yaml:"log_level"`
	Logging             LoggingConfig             `yaml:"logging"`
	Model               string                    `yaml:"model"`
	SmallModel          string                    `yaml:"small_model"`
	DefaultAgent        string                    `yaml:"default_agent"`
	Provider            map[string]ProviderConfig `yaml:"provider"`
	DisabledProviders   []string                  `yaml:"disabled_providers"`
	EnabledProviders    []string                  `yaml:"enabled_providers"`
	Agent               map[string]AgentConfig    `yaml:"agent"`
	Command             map[string]string         `yaml:"command"`
	Skills              SkillsConfig              `yaml:"skills"`
	MCP                 map[string]any            `yaml:"mcp"`
	Permission          any                       `yaml:"permission"`
	PermissionMemoryScope PermissionMemoryScope   `yaml:"permission_memory_scope"`
	Tools               map[string]bool           `yaml:"tools"`
	StrictPermissions   bool                      `yaml:"strict_permissions"`
	ContinueLoopOnDeny  bool                      `yaml:"continue_loop_on_deny"`
	Experimental        ExperimentalConfig        `yaml:"experimental"`
	Server              ServerConfig              `yaml:"server"`
	TUI                 TUIConfig                 `yaml:"tui"`
	Plugin              []string                  `yaml:"plugin"`
	Instructions        []string                  `yaml:"instructions"`
	Snapshot            bool                      `yaml:"snapshot"`
	Share               ShareMode                 `yaml:"share"`
	Autoupdate          bool                      `yaml:"autoupdate"`
	Compaction          CompactionConfig          `yaml:"compaction"`
	LSP                 map[string]any            `yaml:"lsp"`
	Formatter           map[string]any            `yaml:"formatter"`
}

// Default returns a Config populated with the defaults the core
// assumes when a key is absent.
func Default() *Config {
	return &Config{
		Theme:                 "system",
		LogLevel:              "info",
		DefaultAgent:          "build",
		PermissionMemoryScope: ScopeProject,
		Share:                 ShareDisabled,
		Server:                ServerConfig{Port: 4096, Hostname: "127.0.0.1"},
		Logging:               LoggingConfig{Level: "info", Format: "json", Console: true},
	}
}

// legacyCamelCase lists request/config fields rejected per SPEC_FULL.md
// §6: "Legacy camelCase fields ... are rejected with 400."
var legacyCamelCase = []string{"providerID", "messageIDs", "maxSteps", "whitelist", "blacklist"}

// RejectLegacyFields returns a non-nil error naming the first legacy
// camelCase key found in raw, or nil if none are present.
func RejectLegacyFields(raw map[string]any) error {
	for _, k := range legacyCamelCase {
		if _, ok := raw[k]; ok {
			return fmt.Errorf("config: legacy field %q is no longer accepted", k)
		}
	}
	return nil
}

// Load reads and parses the YAML config at path, falling back to
// Default() fields for anything absent, then applies environment
// overrides via ApplyEnv. A missing file is not an error: Default()
// plus env overrides is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	ApplyEnv(cfg)
	return cfg, nil
}

// ConfigDir resolves the config directory: HOTARU_CONFIG_DIR if set,
// otherwise "$HOME/.config/hotaru".
func ConfigDir() string {
	if v := os.Getenv("HOTARU_CONFIG_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hotaru"
	}
	return filepath.Join(home, ".config", "hotaru")
}

// ApplyEnv overlays provider API keys from <PROVIDER>_API_KEY
// environment variables (provider name uppercased, hyphens to
// underscores) onto cfg.Provider.
func ApplyEnv(cfg *Config) {
	if cfg.Provider == nil {
		cfg.Provider = make(map[string]ProviderConfig)
	}
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasSuffix(name, "_API_KEY") {
			continue
		}
		providerEnvName := strings.TrimSuffix(name, "_API_KEY")
		if providerEnvName == "" {
			continue
		}
		provider := strings.ToLower(strings.ReplaceAll(providerEnvName, "_", "-"))
		entry := cfg.Provider[provider]
		entry.APIKey = value
		cfg.Provider[provider] = entry
	}
}
