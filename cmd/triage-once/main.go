package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/factory"
	"github.com/mikey/llm-mail-triage/internal/logging"
	"github.com/mikey/llm-mail-triage/internal/ratelimit"
	"go.uber.org/zap"
)

var (
	provider    = flag.String("provider", "", "LLM provider override (bedrock, gemini, openai)")
	maxMessages = flag.Int("max-messages", 0, "Cap on feed messages ingested this run (0 = config value)")
	applyMoves  = flag.Bool("apply-moves", false, "Move approved messages at the provider")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog     = flag.Bool("json-log", false, "Output logs in JSON format")
)

// triage-once runs a single triage cycle and exits. Useful for cron-style
// scheduling and for inspecting a cycle without the daemon.
func main() {
	flag.Parse()

	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.New()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if file := cfg.GetViper().ConfigFileUsed(); file != "" {
		logger.Info("Loaded configuration from file", zap.String("file", file))
	}
	if *provider != "" {
		cfg.GetViper().Set("llm.provider", *provider)
	}
	if *maxMessages > 0 {
		cfg.GetViper().Set("triage.max_messages_per_cycle", *maxMessages)
	}
	if *applyMoves {
		cfg.GetViper().Set("triage.apply_moves", true)
	}

	triageCfg, err := cfg.GetTriage()
	if err != nil {
		logger.Fatal("Invalid triage configuration", zap.Error(err))
	}

	ctx := context.Background()

	textProcessor := factory.NewTextProcessorFactory(logger).CreateTextProcessor()

	backend, err := factory.NewBackendFactory(cfg, logger, textProcessor).CreateBackend()
	if err != nil {
		logger.Fatal("Failed to create classifier backend", zap.Error(err))
	}

	store, err := factory.NewStoreFactory(cfg, logger).CreateStore()
	if err != nil {
		logger.Fatal("Failed to create store", zap.Error(err))
	}

	mailProvider, err := factory.NewProviderFactory(cfg, logger).CreateProvider(ctx)
	if err != nil {
		logger.Fatal("Failed to create mail provider", zap.Error(err))
	}

	ruleSet, err := factory.NewRulesFactory(cfg, logger).CreateRuleSet()
	if err != nil {
		logger.Fatal("Failed to load triage rules", zap.Error(err))
	}

	llmLimit, err := cfg.GetRateLimit("llm")
	if err != nil {
		logger.Fatal("Invalid rate limit configuration", zap.Error(err))
	}
	mailLimit, err := cfg.GetRateLimit("mail")
	if err != nil {
		logger.Fatal("Invalid rate limit configuration", zap.Error(err))
	}
	llmGate := ratelimit.New(llmLimit.PerSecond, llmLimit.Burst, llmLimit.MaxWait)
	mailGate := ratelimit.New(mailLimit.PerSecond, mailLimit.Burst, mailLimit.MaxWait)

	policyCfg, err := cfg.GetAutoApprove()
	if err != nil {
		logger.Fatal("Invalid auto-approve configuration", zap.Error(err))
	}

	history := core.NewSenderHistory(store, logger)
	ledger := core.NewLedger(store, logger)
	resolver := core.NewThreadResolver(store, cfg.GetMail().OwnDomains, logger)
	classifier := core.NewClassifierClient(backend, llmGate, store, logger)
	contexts := core.NewContextBuilder(
		history,
		mailProvider,
		textProcessor,
		logger,
		triageCfg.ThreadContextLimit,
		triageCfg.ThreadSnippetSize,
		triageCfg.Preferences,
	)
	autoApprover := core.NewAutoApprover(store, history, core.AutoApprovePolicy{
		Enabled:       policyCfg.Enabled,
		MinConfidence: policyCfg.MinConfidence,
		MinAge:        policyCfg.MinAge,
	}, logger)

	triage := core.NewTriageService(
		mailProvider,
		store,
		ledger,
		ruleSet,
		resolver,
		classifier,
		contexts,
		core.NewDegradationController(logger),
		history,
		autoApprover,
		mailGate,
		logger,
		core.TriageOptions{
			MaxMessagesPerCycle: triageCfg.MaxMessagesPerCycle,
			ClassifyConcurrency: triageCfg.ClassifyConcurrency,
			PendingMaxAge:       triageCfg.PendingMaxAge,
			BacklogBatch:        triageCfg.BacklogBatch,
			DegradedPriority:    triageCfg.DegradedPriority,
			DegradedAction:      triageCfg.DegradedActionType,
		},
	)

	stats, err := triage.RunCycle(ctx)
	if err != nil {
		logger.Fatal("Triage cycle failed", zap.Error(err))
	}

	fmt.Printf("\n=== Cycle Summary ===\n")
	fmt.Printf("Fetched: %d\n", stats.Fetched)
	fmt.Printf("New: %d\n", stats.New)
	fmt.Printf("Moved: %d\n", stats.Moved)
	fmt.Printf("Retried: %d\n", stats.Retried)
	fmt.Printf("Auto-ruled: %d\n", stats.AutoRuled)
	fmt.Printf("Inherited: %d\n", stats.Inherited)
	fmt.Printf("Classified: %d\n", stats.Classified)
	fmt.Printf("Failed: %d\n", stats.Failed)
	fmt.Printf("Queued: %d\n", stats.Queued)
	fmt.Printf("Expired: %d\n", stats.Expired)

	if closer, ok := backend.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close classifier backend", zap.Error(err))
		}
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}
}
