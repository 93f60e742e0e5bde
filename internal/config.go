package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Analysis providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderNone      = "none"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Data      DataConfig        `yaml:"data"`
	Registry  RegistryConfig    `yaml:"registry"`
	Analysis  AnalysisConfig    `yaml:"analysis"`
	Pipelines PipelineConfig    `yaml:"pipelines"`
	Sources   SourcesConfig     `yaml:"sources"`
	Notify    NotifyConfig      `yaml:"notify"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Data.Validate(); err != nil {
		return err
	}
	if err := c.Registry.Validate(); err != nil {
		return err
	}
	if err := c.Analysis.Validate(); err != nil {
		return err
	}
	if err := c.Pipelines.Validate(); err != nil {
		return err
	}
	if err := c.Notify.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns the HTTP server listen address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DataConfig holds the filesystem layout for session data.
type DataConfig struct {
	// Root is the directory holding one subdirectory per session.
	Root string `yaml:"root"`
	// IntakeDir is watched for dropped media files ({intake}/{session}/photo.jpg).
	IntakeDir string `yaml:"intake_dir"`
	// SearchIndex is the path of the bleve index over reviewed summaries.
	SearchIndex string `yaml:"search_index"`
}

// Validate validates the data configuration.
func (c *DataConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.IntakeDir, validation.Required),
		validation.Field(&c.SearchIndex, validation.Required),
	)
}

// RegistryConfig holds the SQLite session registry configuration.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the registry configuration.
func (c *RegistryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AnalysisConfig selects and configures the external analysis service.
//
// Provider "none" disables outbound calls; every analysis request then fails
// and pipelines degrade to fallback records, which keeps the service usable
// without credentials.
type AnalysisConfig struct {
	Provider       string `yaml:"provider"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-call analysis timeout.
func (c *AnalysisConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate validates the analysis configuration.
func (c *AnalysisConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required,
			validation.In(ProviderAnthropic, ProviderOpenAI, ProviderNone)),
		validation.Field(&c.TimeoutSeconds, validation.Min(1)),
	); err != nil {
		return err
	}
	if c.Provider != ProviderNone && c.APIKey == "" {
		return fmt.Errorf("analysis: provider is %q but api_key is empty", c.Provider)
	}
	return nil
}

// PipelineConfig tunes the background pipelines and the result-or-wait
// resolver.
type PipelineConfig struct {
	BatchSize           int `yaml:"batch_size"`
	Concurrency         int `yaml:"concurrency"`
	AwaitTimeoutSeconds int `yaml:"await_timeout_seconds"`
	// ResolverBypass hides background results from synchronous consumers so
	// their own compute paths can be exercised.
	ResolverBypass bool `yaml:"resolver_bypass"`
}

// AwaitTimeout returns how long a synchronous consumer waits for a running
// pipeline before computing the result itself.
func (c *PipelineConfig) AwaitTimeout() time.Duration {
	return time.Duration(c.AwaitTimeoutSeconds) * time.Second
}

// Validate validates the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1)),
		validation.Field(&c.AwaitTimeoutSeconds, validation.Required, validation.Min(1)),
	)
}

// SourcesConfig configures the external data providers.
type SourcesConfig struct {
	// EvidenceURL is the base URL of the booking/event service that serves
	// raw evidence records. Empty disables the evidence fetch (the pipeline
	// then records an empty result set).
	EvidenceURL   string `yaml:"evidence_url"`
	EvidenceToken string `yaml:"evidence_token"`
}

// NotifyConfig configures the post-publish follow-up mailer. An empty
// smtp_host disables it; follow-up requests then fail with a clear error.
type NotifyConfig struct {
	SMTPHost    string `yaml:"smtp_host"`
	SMTPPort    int    `yaml:"smtp_port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	SenderEmail string `yaml:"sender_email"`
	SenderName  string `yaml:"sender_name"`
	ReplyTo     string `yaml:"reply_to"`
	// CaseFileBaseURL prefixes the published report link in each email.
	CaseFileBaseURL string `yaml:"case_file_base_url"`
	FeedbackBaseURL string `yaml:"feedback_base_url"`
	// SendDelaySeconds spaces consecutive sends for provider rate limits.
	SendDelaySeconds int `yaml:"send_delay_seconds"`
}

// Enabled returns true when the follow-up mailer is configured.
func (c *NotifyConfig) Enabled() bool {
	return c.SMTPHost != ""
}

// SendDelay returns the pause between consecutive sends.
func (c *NotifyConfig) SendDelay() time.Duration {
	return time.Duration(c.SendDelaySeconds) * time.Second
}

// Validate validates the notify configuration.
func (c *NotifyConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.SMTPPort, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.SenderEmail, validation.Required),
		validation.Field(&c.CaseFileBaseURL, validation.Required),
	)
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when API authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP:     HTTPConfig{Port: 8080},
		},
		Data: DataConfig{
			Root:        "./data/sessions",
			IntakeDir:   "./data/intake",
			SearchIndex: "./data/summaries.bleve",
		},
		Registry: RegistryConfig{Path: "./data/casefile.db"},
		Analysis: AnalysisConfig{
			Provider:       ProviderNone,
			TimeoutSeconds: 60,
		},
		Pipelines: PipelineConfig{
			BatchSize:           10,
			Concurrency:         3,
			AwaitTimeoutSeconds: 30,
		},
		Auth: AuthConfig{Mode: AuthModeDisabled},
	}
}
