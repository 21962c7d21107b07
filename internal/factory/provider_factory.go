package factory

import (
	"context"
	"fmt"

	"github.com/mikey/llm-mail-triage/internal/adapters/gmail"
	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
)

// ProviderFactory creates mail providers based on configuration
type ProviderFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(cfg *config.Config, logger *zap.Logger) *ProviderFactory {
	return &ProviderFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateProvider creates a mail provider based on the configuration
func (f *ProviderFactory) CreateProvider(ctx context.Context) (core.MailProvider, error) {
	mailConfig := f.cfg.GetMail()

	switch mailConfig.Provider {
	case "gmail":
		gmailConfig := f.cfg.GetGmail()
		svc, err := gmail.NewService(ctx, gmailConfig.CredentialsFile, gmailConfig.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gmail service: %w", err)
		}
		return gmail.NewProvider(svc, gmailConfig.UserID, gmailConfig.PageSize, f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", mailConfig.Provider)
	}
}
