package factory

import (
	"fmt"

	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
)

// RulesFactory builds the static rule set from configuration
type RulesFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRulesFactory creates a new rules factory
func NewRulesFactory(cfg *config.Config, logger *zap.Logger) *RulesFactory {
	return &RulesFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateRuleSet builds the validated rule set from the config file
func (f *RulesFactory) CreateRuleSet() (*core.RuleSet, error) {
	ruleConfigs, err := f.cfg.GetRules()
	if err != nil {
		return nil, err
	}

	rules := make([]core.AutoRule, 0, len(ruleConfigs))
	for _, rc := range ruleConfigs {
		rules = append(rules, core.AutoRule{
			Name:            rc.Name,
			SenderPattern:   rc.SenderPattern,
			SubjectContains: rc.SubjectContains,
			Folder:          rc.Folder,
			Priority:        core.Priority(rc.Priority),
			ActionType:      core.ActionType(rc.ActionType),
		})
	}

	ruleSet, err := core.NewRuleSet(rules, f.logger)
	if err != nil {
		return nil, fmt.Errorf("invalid triage rules: %w", err)
	}
	return ruleSet, nil
}
