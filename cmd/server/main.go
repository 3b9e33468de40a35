// Command server runs the agent execution runtime as a standalone
// process: it wires the Event Bus system, Workflow Runtime, Workflow
// Handler, AI Handler, and Agent Executor together behind the JSON-RPC +
// SSE transport, per spec.md §9's single-process wiring requirement
// (exactly one bus.Manager shared by every collaborator). Grounded on the
// teacher's cmd/demo/main.go wiring style: a flat sequence of
// constructor calls with no framework of its own.
package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/redis/go-redis/v9"

	"goa.design/a2aruntime/runtime/a2a"
	"goa.design/a2aruntime/runtime/a2a/types"
	"goa.design/a2aruntime/runtime/aihandler"
	"goa.design/a2aruntime/runtime/bus"
	"goa.design/a2aruntime/runtime/config"
	"goa.design/a2aruntime/runtime/executor"
	"goa.design/a2aruntime/runtime/modelclient"
	"goa.design/a2aruntime/runtime/session"
	"goa.design/a2aruntime/runtime/taskstore"
	"goa.design/a2aruntime/runtime/telemetry"
	"goa.design/a2aruntime/runtime/workflow"
	"goa.design/a2aruntime/runtime/workflowhandler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	tel := telemetry.Bundle{
		Logger:  telemetry.NewClueLogger(),
		Metrics: telemetry.NewClueMetrics(),
		Tracer:  telemetry.NewClueTracer(),
	}

	store, err := newStore(cfg.Store)
	if err != nil {
		log.Fatalf("constructing task store: %v", err)
	}

	model, err := newModel(cfg.Model)
	if err != nil {
		log.Fatalf("constructing model client: %v", err)
	}

	// Exactly one bus.Manager for the process, shared by the Workflow
	// Handler and the Agent Executor (spec.md §9).
	busManager := bus.NewManager()
	sessions := session.NewManager()
	rt := workflow.New(tel)

	wh := workflowhandler.New(rt, busManager, sessions, store, tel)
	wh.SetDispatchLimiter(cfg.Dispatch.PerMinute)

	ai := aihandler.New(model, rt, wh, sessions, tel)
	ex := executor.New(rt, wh, ai, busManager, sessions)

	srv := a2a.NewServer(ex, rt, busManager, store, sessions, tel, cfg.Server.BasePath, types.AgentCard{
		ProtocolVersion: "1.0",
		Name:            "a2a-runtime",
		Description:     "Agent execution runtime exposing workflow plugins over JSON-RPC + SSE.",
		URL:             fmt.Sprintf("http://%s%s", cfg.Server.Addr, cfg.Server.BasePath),
		Version:         "0.1.0",
	})

	log.Printf("listening on %s (base path %s)", cfg.Server.Addr, cfg.Server.BasePath)
	if err := http.ListenAndServe(cfg.Server.Addr, srv.Routes()); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func newStore(cfg config.StoreConfig) (taskstore.Store, error) {
	switch cfg.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing store.redisUrl: %w", err)
		}
		return taskstore.NewRedis(redis.NewClient(opts), cfg.TTLDuration()), nil
	case "", "memory":
		return taskstore.NewInMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store.backend %q", cfg.Backend)
	}
}

func newModel(cfg config.ModelConfig) (modelclient.StreamingModel, error) {
	switch cfg.Provider {
	case "anthropic":
		return modelclient.NewAnthropic(cfg.APIKey, anthropic.Model(cfg.Name)), nil
	case "openai":
		return modelclient.NewOpenAI(cfg.APIKey, openai.ChatModel(cfg.Name)), nil
	case "bedrock":
		return nil, fmt.Errorf("model.provider bedrock requires a *bedrockruntime.Client constructed from AWS credentials; wire it in main() for your deployment")
	default:
		return nil, fmt.Errorf("unknown model.provider %q", cfg.Provider)
	}
}
