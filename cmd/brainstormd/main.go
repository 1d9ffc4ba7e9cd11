// Command brainstormd is the long-running coordination daemon: it loads
// configuration, wires the session store, branch state store, findings
// index, probe, and orchestrator together, and serves the resulting
// tool-call surface to an agent over stdio via MCP.
package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/brainstormd/brainstormd/internal/audit"
	"github.com/brainstormd/brainstormd/internal/branchstate"
	"github.com/brainstormd/brainstormd/internal/branchstate/index"
	"github.com/brainstormd/brainstormd/internal/config"
	"github.com/brainstormd/brainstormd/internal/findings"
	"github.com/brainstormd/brainstormd/internal/mcpadapter"
	"github.com/brainstormd/brainstormd/internal/notify"
	"github.com/brainstormd/brainstormd/internal/orchestrator"
	"github.com/brainstormd/brainstormd/internal/probe"
	"github.com/brainstormd/brainstormd/internal/session"
	"github.com/mark3labs/mcp-go/server"
	"google.golang.org/genai"
)

func main() {
	logger := log.New(os.Stderr, "brainstormd: ", log.LstdFlags)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		logger.Fatalf("create state dir: %v", err)
	}

	idx, err := index.Open(filepath.Join(cfg.StateDir, "index.db"))
	if err != nil {
		logger.Fatalf("open session index: %v", err)
	}
	defer idx.Close()

	auditLog, err := audit.Open(cfg.Audit.Dir)
	if err != nil {
		logger.Printf("audit log unavailable, falling back to no-op: %v", err)
		auditLog = nil
	}

	state := branchstate.NewStore(branchstate.Config{
		Dir:    cfg.StateDir,
		Index:  idx,
		Audit:  auditForStore(auditLog),
		Logger: logger,
	})
	defer state.Close()

	sessions := session.NewStore(session.Config{
		Port:        cfg.Port,
		SkipBrowser: cfg.SkipBrowser,
		Logger:      logger,
	})

	findingsIx := buildFindingsIndex(cfg, logger)
	if findingsIx != nil {
		defer findingsIx.Close()
	}

	prober := buildProber(cfg, findingsIx, logger)

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Notify.SlackWebhookURL != "" {
		notifier = notify.NewSlackNotifier(cfg.Notify.SlackWebhookURL, logger)
	}

	orch := orchestrator.New(orchestrator.Config{
		Sessions: sessions,
		State:    state,
		Probe:    prober,
		Findings: findingsIx,
		Notify:   notifier,
		Logger:   logger,
	})

	adapter := mcpadapter.New(orch, findingsIx)
	s := server.NewMCPServer("brainstormd", "1.0.0")
	adapter.Register(s)

	logger.Println("brainstormd starting on stdio")
	if err := server.ServeStdio(s); err != nil {
		logger.Fatalf("server error: %v", err)
	}
}

func auditForStore(a *audit.BadgerLog) audit.Log {
	if a == nil {
		return audit.NoopLog{}
	}
	return a
}

func buildFindingsIndex(cfg *config.Config, logger *log.Logger) *findings.Index {
	embFunc := findings.LocalHashEmbedder(768)

	if cfg.Probe.GeminiAPIKey != "" {
		client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.Probe.GeminiAPIKey})
		if err != nil {
			logger.Printf("findings: gemini client unavailable, using local hash embedder: %v", err)
		} else {
			embFunc = findings.GeminiEmbedder(client, embeddingModel(cfg))
		}
	}

	var backend findings.Backend
	var err error
	switch cfg.Findings.Backend {
	case "qdrant":
		backend, err = findings.NewQdrantBackend(
			cfg.Findings.QdrantHost, cfg.Findings.QdrantPort, cfg.Findings.QdrantAPIKey,
			cfg.Findings.QdrantUseTLS, 768, embFunc, logger)
	default:
		backend, err = findings.NewLocalBackend(filepath.Join(cfg.StateDir, "findings.bin"), embFunc, logger)
	}
	if err != nil {
		logger.Printf("findings index unavailable: %v", err)
		return nil
	}
	return findings.NewIndex(backend)
}

func embeddingModel(cfg *config.Config) string {
	if cfg.Probe.GeminiModel != "" {
		return cfg.Probe.GeminiModel
	}
	return "gemini-embedding-001"
}

func buildProber(cfg *config.Config, findingsIx *findings.Index, logger *log.Logger) probe.Prober {
	if cfg.Probe.Kind == "llm" && cfg.Probe.GeminiAPIKey != "" {
		client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.Probe.GeminiAPIKey})
		if err != nil {
			logger.Printf("llm probe unavailable, falling back to rules: %v", err)
		} else {
			model := cfg.Probe.GeminiModel
			if model == "" {
				model = "gemini-2.0-flash"
			}
			return &probe.LLMProber{Client: client, Model: model}
		}
	}
	return &probe.RulesProber{Findings: findingsIx}
}
