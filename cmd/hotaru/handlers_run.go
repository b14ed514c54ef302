package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/app"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/config"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/session"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/turn"
)

type runOptions struct {
	Prompt    string
	Agent     string
	Model     string
	SessionID string
	ProjectID string
	Directory string
}

// splitModel parses a "provider/model" combined identifier, mirroring
// internal/httpapi's request parsing for the same wire convention.
func splitModel(model string) (providerID, modelID string) {
	if model == "" {
		return "", ""
	}
	if provider, rest, ok := strings.Cut(model, "/"); ok {
		return provider, rest
	}
	return "", model
}

// runOnce loads config, wires an App Context, resolves or creates the
// target session, submits one prompt, waits for it to finish, and
// prints the assistant's reply.
func runOnce(cmd *cobra.Command, configPath string, opts runOptions) error {
	log := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dataDir := filepath.Join(config.ConfigDir(), "data")
	appCtx, err := app.New(app.Options{Config: cfg, DataDir: dataDir, Logger: log})
	if err != nil {
		return fmt.Errorf("build app context: %w", err)
	}
	if err := appCtx.Startup(); err != nil {
		return fmt.Errorf("start app context: %w", err)
	}
	defer appCtx.Shutdown()

	providerID, modelID := splitModel(opts.Model)

	var sessionID string
	if opts.SessionID != "" {
		info, err := appCtx.Store.GetSession(opts.SessionID, opts.ProjectID)
		if err != nil {
			return fmt.Errorf("look up session: %w", err)
		}
		if info == nil {
			return fmt.Errorf("session %s not found", opts.SessionID)
		}
		sessionID = info.ID
	} else {
		agentName := opts.Agent
		if agentName == "" {
			agentName = cfg.DefaultAgent
		}
		info, err := appCtx.Store.CreateSession(opts.ProjectID, agentName, opts.Directory, modelID, providerID, "")
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = info.ID
	}

	agentName := opts.Agent
	if agentName == "" {
		agentName = cfg.DefaultAgent
	}
	agent, ok := appCtx.Agents[agentName]
	if !ok {
		agent = turn.AgentInfo{Name: agentName, Policy: appCtx.AgentPolicy(agentName)}
	}

	in := session.PromptInput{
		SessionID:          sessionID,
		Content:            opts.Prompt,
		ProviderID:         providerID,
		ModelID:            modelID,
		Agent:              agent,
		Cwd:                opts.Directory,
		ResumeHistory:      true,
		AutoCompaction:     true,
		CompactionConfig:   &cfg.Compaction,
		Ruleset:            agent.Policy.Permissions,
		ContinueLoopOnDeny: cfg.ContinueLoopOnDeny,
		MCP:                appCtx.MCP,
		Registry:           appCtx.Tools,
	}

	result, err := appCtx.Loop.Prompt(context.Background(), in)
	if err != nil {
		return fmt.Errorf("run prompt: %w", err)
	}

	if result.Status == turn.StatusError {
		return fmt.Errorf("turn failed: %s", result.Error)
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Text)
	return nil
}
