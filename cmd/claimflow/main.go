package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"claimflow/internal/adapter/audit"
	"claimflow/internal/adapter/backend"
	"claimflow/internal/adapter/llm"
	"claimflow/internal/adapter/tool"
	"claimflow/internal/domain"
	"claimflow/internal/infra/config"
	"claimflow/internal/infra/logger"
	"claimflow/internal/infra/tracer"
	"claimflow/internal/usecase"
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
	case "process":
		if err := runProcess(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "process: %v\n", err)
			os.Exit(1)
		}
	case "run":
		if err := runAgent(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "run: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'claimflow --help' for usage.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`claimflow - Multi-agent insurance claim processing

USAGE:
    claimflow COMMAND [FLAGS]

COMMANDS:
    process     Run the supervised multi-agent workflow for a claim
    run         Run a single agent against a claim or custom query
    doctor      Check configuration, backend and audit store health

FLAGS:
    -config PATH    Config file path (default: ./config.yaml)
    -claim PATH     Claim JSON file (process, run)
    -agent NAME     Agent logical name (run)
    -query TEXT     Custom query overriding the claim prompt (run)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: CLAIMFLOW_BACKEND_API_KEY, CLAIMFLOW_PROVIDER_API_KEY
    override config values; CLAIMFLOW_PASSPHRASE unlocks enc: secrets.

EXAMPLES:
    claimflow process -claim claim.json
    claimflow run -agent policy_checker -claim claim.json
    claimflow run -agent policy_checker -query "summarize coverage limits"
    claimflow doctor`)
}

// app bundles the wired system and what must be torn down with it.
type app struct {
	cfg     *config.Config
	service *usecase.Service
	logger  *slog.Logger
	close   func()
}

// wire assembles the full system from a config file.
func wire(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		closeLog()
		return nil, err
	}

	var store domain.AuditStore
	if cfg.Audit.Enabled {
		sqlStore, err := audit.NewSQLiteStore(cfg.Audit.DBPath)
		if err != nil {
			shutdownTracer(ctx)
			closeLog()
			return nil, err
		}
		store = sqlStore
	} else {
		store = audit.NewNoopStore()
	}

	registry := tool.NewRegistry(log)
	toolClient := tool.NewHTTPClient(cfg.Tools.RequestTimeout)
	for _, t := range []domain.Tool{
		tool.NewVehicleTool(cfg.Tools.VehicleAPIURL, toolClient, log),
		tool.NewImageTool(cfg.Tools.ImageAnalysisURL, toolClient, log),
		tool.NewPolicySearchTool(cfg.Tools.PolicySearchURL, toolClient, log),
		tool.NewHistoryTool(cfg.Tools.ClaimHistoryURL, toolClient, log),
	} {
		limited := tool.WithRateLimit(t, cfg.Tools.RateLimit, cfg.Tools.RateWindow)
		if err := registry.Register(limited); err != nil {
			shutdownTracer(ctx)
			closeLog()
			return nil, err
		}
	}

	backendClient := backend.New(cfg.Backend, log)
	provider := llm.NewCircuitBreakerProvider(
		llm.NewOpenAIProvider(cfg.Provider, log),
		cfg.Provider.Breaker,
		log,
	)

	threads := usecase.NewThreads()
	lifecycle := usecase.NewLifecycle(backendClient, log)
	selector := usecase.NewSelector(backendClient, cfg.Selector, log)

	runCfg := usecase.RunnerConfig{
		MaxIterations: cfg.Runner.MaxIterations,
		PollTimeout:   cfg.Runner.PollTimeout,
		PollInterval:  cfg.Runner.PollInterval,
	}
	runner := usecase.NewRunner(backendClient, registry, threads, store, runCfg, log)
	fallback := usecase.NewFallback(provider, registry, threads, store, runCfg, log)
	supervisor := usecase.NewSupervisor(cfg, lifecycle, runner, fallback, selector, threads, store, log)
	service := usecase.NewService(cfg, lifecycle, supervisor, selector, threads, log)

	return &app{
		cfg:     cfg,
		service: service,
		logger:  log,
		close: func() {
			store.Close()
			shutdownTracer(context.Background())
			closeLog()
		},
	}, nil
}

func loadClaim(path string) (*domain.Claim, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read claim: %w", err)
	}
	var claim domain.Claim
	if err := json.Unmarshal(data, &claim); err != nil {
		return nil, fmt.Errorf("parse claim: %w", err)
	}
	return &claim, nil
}

func runProcess(args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file path")
	claimPath := fs.String("claim", "", "claim JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *claimPath == "" {
		return fmt.Errorf("-claim is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	claim, err := loadClaim(*claimPath)
	if err != nil {
		return err
	}

	a, err := wire(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.service.Start(ctx); err != nil {
		return err
	}

	result, err := a.service.ProcessClaim(ctx, claim)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runAgent(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file path")
	claimPath := fs.String("claim", "", "claim JSON file")
	agentName := fs.String("agent", "", "agent logical name")
	query := fs.String("query", "", "custom query")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentName == "" {
		return fmt.Errorf("-agent is required")
	}
	if *claimPath == "" && *query == "" {
		return fmt.Errorf("one of -claim or -query is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var claim *domain.Claim
	if *claimPath != "" {
		var err error
		claim, err = loadClaim(*claimPath)
		if err != nil {
			return err
		}
	}

	a, err := wire(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.service.Start(ctx); err != nil {
		return err
	}

	result, err := a.service.RunAgent(ctx, *agentName, claim, *query)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("config: %s\n", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("  [FAIL] %v\n", err)
		return fmt.Errorf("config check failed")
	}
	fmt.Printf("  [OK] %d agents, %s\n", len(cfg.Agents), cfg.String())

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	fmt.Printf("backend: %s\n", cfg.Backend.BaseURL)
	backendClient := backend.New(cfg.Backend, log)
	if err := backendClient.Ping(ctx); err != nil {
		fmt.Printf("  [WARN] unreachable, workflows will use the fallback path: %v\n", err)
	} else {
		fmt.Println("  [OK] reachable")
	}

	fmt.Printf("audit: enabled=%v\n", cfg.Audit.Enabled)
	if cfg.Audit.Enabled {
		store, err := audit.NewSQLiteStore(cfg.Audit.DBPath)
		if err != nil {
			fmt.Printf("  [FAIL] %v\n", err)
			return fmt.Errorf("audit check failed")
		}
		store.Close()
		fmt.Printf("  [OK] %s\n", cfg.Audit.DBPath)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
