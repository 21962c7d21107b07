package config

import (
	"fmt"
	"time"

	"github.com/mikey/llm-mail-triage/internal/core"
)

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GmailConfig represents the configuration for the Gmail provider
type GmailConfig struct {
	CredentialsFile string
	TokenFile       string
	UserID          string
	PageSize        int
}

// MailConfig represents the mail source configuration
type MailConfig struct {
	Provider   string
	OwnDomains []string
}

// TriageConfig represents the triage pipeline configuration
type TriageConfig struct {
	CycleInterval      time.Duration
	MaxMessagesPerCycle int
	ClassifyConcurrency int
	PendingMaxAge      time.Duration
	BacklogBatch       int
	ApplyMoves         bool
	Preferences        string
	DegradedPriority   core.Priority
	DegradedActionType core.ActionType
	ThreadContextLimit int
	ThreadSnippetSize  int
}

// AutoApproveConfig represents the unattended approval policy
type AutoApproveConfig struct {
	Enabled       bool
	MinConfidence float64
	MinAge        time.Duration
}

// RateLimitConfig represents one token bucket
type RateLimitConfig struct {
	PerSecond float64
	Burst     int
	MaxWait   time.Duration
}

// StorageConfig represents the persistence configuration
type StorageConfig struct {
	Type       string
	SQLitePath string
	MySQLDSN   string
}

// RuleConfig represents one static triage rule from the config file
type RuleConfig struct {
	Name           string `mapstructure:"name"`
	SenderPattern  string `mapstructure:"sender_pattern"`
	SubjectContains string `mapstructure:"subject_contains"`
	Folder         string `mapstructure:"folder"`
	Priority       string `mapstructure:"priority"`
	ActionType     string `mapstructure:"action_type"`
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider: c.GetString("llm.provider"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetGmail returns the Gmail provider configuration
func (c *Config) GetGmail() GmailConfig {
	return GmailConfig{
		CredentialsFile: c.GetString("gmail.credentials_file"),
		TokenFile:       c.GetString("gmail.token_file"),
		UserID:          c.GetString("gmail.user_id"),
		PageSize:        c.GetInt("gmail.page_size"),
	}
}

// GetMail returns the mail source configuration
func (c *Config) GetMail() MailConfig {
	return MailConfig{
		Provider:   c.GetString("mail.provider"),
		OwnDomains: c.GetStringSlice("mail.own_domains"),
	}
}

// GetTriage returns the triage pipeline configuration
func (c *Config) GetTriage() (TriageConfig, error) {
	interval, err := c.GetDuration("triage.cycle_interval")
	if err != nil {
		return TriageConfig{}, fmt.Errorf("invalid triage.cycle_interval: %w", err)
	}
	maxAge, err := c.GetDuration("triage.pending_max_age")
	if err != nil {
		return TriageConfig{}, fmt.Errorf("invalid triage.pending_max_age: %w", err)
	}
	return TriageConfig{
		CycleInterval:      interval,
		MaxMessagesPerCycle: c.GetInt("triage.max_messages_per_cycle"),
		ClassifyConcurrency: c.GetInt("triage.classify_concurrency"),
		PendingMaxAge:      maxAge,
		BacklogBatch:       c.GetInt("triage.backlog_batch"),
		ApplyMoves:         c.GetBool("triage.apply_moves"),
		Preferences:        c.GetString("triage.preferences"),
		DegradedPriority:   core.Priority(c.GetString("triage.degraded_priority")),
		DegradedActionType: core.ActionType(c.GetString("triage.degraded_action_type")),
		ThreadContextLimit: c.GetInt("triage.thread_context_limit"),
		ThreadSnippetSize:  c.GetInt("triage.thread_snippet_size"),
	}, nil
}

// GetAutoApprove returns the unattended approval policy
func (c *Config) GetAutoApprove() (AutoApproveConfig, error) {
	minAge, err := c.GetDuration("auto_approve.min_age")
	if err != nil {
		return AutoApproveConfig{}, fmt.Errorf("invalid auto_approve.min_age: %w", err)
	}
	return AutoApproveConfig{
		Enabled:       c.GetBool("auto_approve.enabled"),
		MinConfidence: c.GetFloat64("auto_approve.min_confidence"),
		MinAge:        minAge,
	}, nil
}

// GetRateLimit returns the named rate-limit bucket ("llm" or "mail")
func (c *Config) GetRateLimit(name string) (RateLimitConfig, error) {
	maxWait, err := c.GetDuration("rate_limit." + name + ".max_wait")
	if err != nil {
		return RateLimitConfig{}, fmt.Errorf("invalid rate_limit.%s.max_wait: %w", name, err)
	}
	return RateLimitConfig{
		PerSecond: c.GetFloat64("rate_limit." + name + ".per_second"),
		Burst:     c.GetInt("rate_limit." + name + ".burst"),
		MaxWait:   maxWait,
	}, nil
}

// GetStorage returns the persistence configuration
func (c *Config) GetStorage() StorageConfig {
	return StorageConfig{
		Type:       c.GetString("storage.type"),
		SQLitePath: c.GetString("storage.sqlite_path"),
		MySQLDSN:   c.GetString("storage.mysql_dsn"),
	}
}

// GetRules returns the static triage rules from the config file
func (c *Config) GetRules() ([]RuleConfig, error) {
	var rules []RuleConfig
	if err := c.v.UnmarshalKey("rules", &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	return rules, nil
}
