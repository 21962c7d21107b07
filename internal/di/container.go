package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/factory"
	"github.com/mikey/llm-mail-triage/internal/logging"
	"github.com/mikey/llm-mail-triage/internal/ratelimit"
	"github.com/mikey/llm-mail-triage/internal/utils"
)

// Gates bundles the two token buckets so the container can tell them apart.
type Gates struct {
	LLM  core.CallGate
	Mail core.CallGate
}

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewBackendFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewProviderFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewRulesFactory); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return nil, err
	}

	// Register triage configuration
	if err := container.Provide(func(cfg *config.Config) (config.TriageConfig, error) {
		return cfg.GetTriage()
	}); err != nil {
		return nil, err
	}

	// Register rate-limit gates
	if err := container.Provide(func(cfg *config.Config) (Gates, error) {
		llm, err := cfg.GetRateLimit("llm")
		if err != nil {
			return Gates{}, err
		}
		mail, err := cfg.GetRateLimit("mail")
		if err != nil {
			return Gates{}, err
		}
		return Gates{
			LLM:  ratelimit.New(llm.PerSecond, llm.Burst, llm.MaxWait),
			Mail: ratelimit.New(mail.PerSecond, mail.Burst, mail.MaxWait),
		}, nil
	}); err != nil {
		return nil, err
	}

	// Register triage store
	if err := container.Provide(func(f *factory.StoreFactory) (core.TriageStore, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}

	// Register mail provider
	if err := container.Provide(func(f *factory.ProviderFactory) (core.MailProvider, error) {
		return f.CreateProvider(context.Background())
	}); err != nil {
		return nil, err
	}

	// Register classifier backend
	if err := container.Provide(func(f *factory.BackendFactory) (core.ClassifierBackend, error) {
		return f.CreateBackend()
	}); err != nil {
		return nil, err
	}

	// Register rule set
	if err := container.Provide(func(f *factory.RulesFactory) (*core.RuleSet, error) {
		return f.CreateRuleSet()
	}); err != nil {
		return nil, err
	}

	// Register sender history
	if err := container.Provide(core.NewSenderHistory); err != nil {
		return nil, err
	}

	// Register seen-message ledger
	if err := container.Provide(core.NewLedger); err != nil {
		return nil, err
	}

	// Register degradation controller
	if err := container.Provide(core.NewDegradationController); err != nil {
		return nil, err
	}

	// Register thread resolver
	if err := container.Provide(func(store core.TriageStore, cfg *config.Config, logger *zap.Logger) *core.ThreadResolver {
		return core.NewThreadResolver(store, cfg.GetMail().OwnDomains, logger)
	}); err != nil {
		return nil, err
	}

	// Register classifier client
	if err := container.Provide(func(
		backend core.ClassifierBackend,
		gates Gates,
		store core.TriageStore,
		logger *zap.Logger,
	) *core.ClassifierClient {
		return core.NewClassifierClient(backend, gates.LLM, store, logger)
	}); err != nil {
		return nil, err
	}

	// Register prompt context builder
	if err := container.Provide(func(
		history *core.SenderHistory,
		provider core.MailProvider,
		text *utils.TextProcessor,
		logger *zap.Logger,
		triageCfg config.TriageConfig,
	) *core.ContextBuilder {
		return core.NewContextBuilder(
			history,
			provider,
			text,
			logger,
			triageCfg.ThreadContextLimit,
			triageCfg.ThreadSnippetSize,
			triageCfg.Preferences,
		)
	}); err != nil {
		return nil, err
	}

	// Register auto-approver
	if err := container.Provide(func(
		store core.TriageStore,
		history *core.SenderHistory,
		cfg *config.Config,
		logger *zap.Logger,
	) (*core.AutoApprover, error) {
		policyCfg, err := cfg.GetAutoApprove()
		if err != nil {
			return nil, err
		}
		policy := core.AutoApprovePolicy{
			Enabled:       policyCfg.Enabled,
			MinConfidence: policyCfg.MinConfidence,
			MinAge:        policyCfg.MinAge,
		}
		return core.NewAutoApprover(store, history, policy, logger), nil
	}); err != nil {
		return nil, err
	}

	// Register triage service
	if err := container.Provide(func(
		provider core.MailProvider,
		store core.TriageStore,
		ledger *core.Ledger,
		rules *core.RuleSet,
		resolver *core.ThreadResolver,
		classifier *core.ClassifierClient,
		contexts *core.ContextBuilder,
		controller *core.DegradationController,
		history *core.SenderHistory,
		autoApprover *core.AutoApprover,
		gates Gates,
		logger *zap.Logger,
		triageCfg config.TriageConfig,
	) *core.TriageService {
		return core.NewTriageService(
			provider,
			store,
			ledger,
			rules,
			resolver,
			classifier,
			contexts,
			controller,
			history,
			autoApprover,
			gates.Mail,
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
	}); err != nil {
		return nil, err
	}

	// Register review service
	if err := container.Provide(func(
		store core.TriageStore,
		provider core.MailProvider,
		history *core.SenderHistory,
		gates Gates,
		logger *zap.Logger,
		triageCfg config.TriageConfig,
	) *core.ReviewService {
		return core.NewReviewService(store, provider, history, gates.Mail, logger, triageCfg.ApplyMoves)
	}); err != nil {
		return nil, err
	}

	return container, nil
}
