package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/config"
)

// defaultConfigPath returns "$HOTARU_CONFIG_DIR/config.yaml" (or
// "~/.config/hotaru/config.yaml" if the env var is unset).
func defaultConfigPath() string {
	return filepath.Join(config.ConfigDir(), "config.yaml")
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the hotaru HTTP/SSE server",
		Long: `Start the hotaru server, exposing the versioned /v1 session API,
the bus-wide event stream, Prometheus metrics, and a health endpoint.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  hotaru serve
  hotaru serve --config ./hotaru.yaml --addr 0.0.0.0:4096`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, addr, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.hostname:server.port from config")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		agentName  string
		model      string
		sessionID  string
		projectID  string
		directory  string
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single prompt against a session and print the result",
		Long: `Run starts (or resumes) a session, submits one prompt, waits for the
turn to finish, and prints the assistant's reply to stdout. Useful for
scripting and CI without standing up the HTTP server.`,
		Example: `  hotaru run "summarize the failing test"
  hotaru run --session ses_abc123 --model anthropic/claude-3 "continue"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, configPath, runOptions{
				Prompt:    args[0],
				Agent:     agentName,
				Model:     model,
				SessionID: sessionID,
				ProjectID: projectID,
				Directory: directory,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&agentName, "agent", "", "Agent name (defaults to config default_agent)")
	cmd.Flags().StringVar(&model, "model", "", `Combined "provider/model" identifier`)
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session instead of creating one")
	cmd.Flags().StringVar(&projectID, "project", "", "Project id to scope the session to")
	cmd.Flags().StringVar(&directory, "dir", "", "Working directory for tool execution (defaults to cwd)")
	return cmd
}
