package testsupport

import (
	"path/filepath"
	"testing"

	"dialqueue/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ReportPath = filepath.Join(base, "call_report.xlsx")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Provider.APIKey = "test"
	cfgVal.Provider.AgentID = "agent-test"
	cfgVal.Provider.AgentPhoneNumberID = "phone-test"
	cfgVal.Provider.StatusAccountSID = "AC-test"
	cfgVal.Provider.StatusAuthToken = "token-test"
	cfgVal.LLM.APIKey = "llm-test"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithProviderBaseURL points the call provider client at a test server.
func WithProviderBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Provider.BaseURL = url
	}
}

// WithStatusBaseURL points the call status client at a test server.
func WithStatusBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Provider.StatusBaseURL = url
	}
}

// WithLLMBaseURL points the chat completion client at a test server.
func WithLLMBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = url
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
