package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestAnalysisConfig_ProviderRequiresKey(t *testing.T) {
	cfg := AnalysisConfig{Provider: ProviderAnthropic, TimeoutSeconds: 60}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("anthropic provider without api_key should fail")
	}
	if !strings.Contains(err.Error(), "api_key is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAnalysisConfig_NoneProviderNeedsNoKey(t *testing.T) {
	cfg := AnalysisConfig{Provider: ProviderNone, TimeoutSeconds: 60}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("none provider should pass without a key: %v", err)
	}
}

func TestAnalysisConfig_UnknownProvider(t *testing.T) {
	cfg := AnalysisConfig{Provider: "oracle", TimeoutSeconds: 60}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown provider should fail validation")
	}
}

func TestPipelineConfig_RejectsZeroConcurrency(t *testing.T) {
	cfg := PipelineConfig{BatchSize: 10, Concurrency: 0, AwaitTimeoutSeconds: 30}
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero concurrency should fail validation")
	}
}

func TestNotifyConfig_DisabledNeedsNothing(t *testing.T) {
	cfg := NotifyConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty notify config should be valid: %v", err)
	}
	if cfg.Enabled() {
		t.Fatal("empty notify config reports enabled")
	}
}

func TestNotifyConfig_EnabledRequiresSender(t *testing.T) {
	cfg := NotifyConfig{SMTPHost: "smtp.example.com", SMTPPort: 587}
	if err := cfg.Validate(); err == nil {
		t.Fatal("notify config without sender_email should fail validation")
	}
	cfg.SenderEmail = "host@example.com"
	cfg.CaseFileBaseURL = "https://example.com/reports/"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete notify config rejected: %v", err)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}
