package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brandloom/council/pkg/agent"
	"github.com/brandloom/council/pkg/budget"
	"github.com/brandloom/council/pkg/config"
	"github.com/brandloom/council/pkg/contextload"
	"github.com/brandloom/council/pkg/coordinator"
	"github.com/brandloom/council/pkg/delivery"
	"github.com/brandloom/council/pkg/evaluate"
	"github.com/brandloom/council/pkg/idempotency"
	"github.com/brandloom/council/pkg/mcp"
	"github.com/brandloom/council/pkg/retry"
	"github.com/brandloom/council/pkg/skills"
	"github.com/brandloom/council/pkg/store"
	"github.com/brandloom/council/pkg/timeout"
)

// defaultClientBudget applies to clients with no stored budget document.
const defaultClientBudget = 1000

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	log.Println("Starting Council Orchestration Engine...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Document store backend
	var st store.Store
	switch cfg.GCP.Store {
	case "memory":
		st = store.NewMemoryStore()
		log.Println("Using in-memory document store")
	default:
		fs, err := store.NewFirestoreStore(ctx, cfg.GCP.ProjectID)
		if err != nil {
			log.Fatalf("Failed to create Firestore store: %v", err)
		}
		st = fs
		log.Printf("Using Firestore for project %s", cfg.GCP.ProjectID)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}()

	// Delivery sink
	var sink delivery.Sink
	if cfg.GCP.Store == "memory" {
		sink = delivery.NewStoreSink(st)
	} else {
		ps, err := delivery.NewPubSubSink(ctx, cfg.GCP.ProjectID, st,
			cfg.Engine.DeliveryTopic, cfg.Engine.ReviewTopic)
		if err != nil {
			log.Fatalf("Failed to create Pub/Sub sink: %v", err)
		}
		defer ps.Close()
		sink = ps
	}

	// Shared mutable components are constructed exactly once here;
	// each carries its own internal per-key synchronization.
	timeouts := timeout.NewManager(30 * time.Second)
	invoker := agent.NewClaudeAgent(cfg.Agent.Model)
	if err := invoker.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize agent: %v", err)
	}

	coord := coordinator.New(coordinator.Deps{
		Store:      st,
		Guard:      idempotency.NewGuard(st, cfg.LeaseTTL()),
		Ledger:     budget.NewLedger(st, defaultClientBudget),
		Loader:     contextload.NewLoader(st, timeouts, cfg.CacheTTL(), retry.DefaultConfig()),
		Invoker:    invoker,
		Evaluator:  evaluate.NewEvaluator(evaluate.NewAgentScorer(invoker, timeouts, retry.DefaultConfig())),
		Skills:     skills.NewRegistry(st),
		Sink:       sink,
		Timeouts:   timeouts,
		WorkerPool: cfg.Engine.WorkerPoolSize,
	})

	srv := mcp.NewServer(coord)

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}

	log.Println("Council Orchestration Engine stopped")
}
