package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	ReportPath string `toml:"report_path"`
	APIBind    string `toml:"api_bind"`
}

// Provider contains configuration for the outbound voice-call provider.
type Provider struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	AgentID            string `toml:"agent_id"`
	AgentPhoneNumberID string `toml:"agent_phone_number_id"`

	StatusAccountSID string `toml:"status_account_sid"`
	StatusAuthToken  string `toml:"status_auth_token"`
	StatusBaseURL    string `toml:"status_base_url"`

	RequestTimeout int    `toml:"request_timeout"`
	PollInterval   int    `toml:"poll_interval"`
	PollMaxWait    int    `toml:"poll_max_wait"`
	DefaultCountry string `toml:"default_country_code"`
}

// LLM contains connection settings for greeting generation and transcript
// summarization.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Invites contains configuration for the calendar-invite service.
type Invites struct {
	Endpoint        string `toml:"endpoint"`
	Timezone        string `toml:"timezone"`
	DurationMinutes int    `toml:"duration_minutes"`
	RequestTimeout  int    `toml:"request_timeout"`
}

// Correlation selects the backing store for provider-call correlation handles.
type Correlation struct {
	Backend    string `toml:"backend"`
	RedisAddr  string `toml:"redis_addr"`
	RedisDB    int    `toml:"redis_db"`
	TTLMinutes int    `toml:"ttl_minutes"`
}

// Workflow contains queue engine timing and recovery knobs.
type Workflow struct {
	ReaperInterval       int `toml:"reaper_interval"`
	ReaperTimeoutMinutes int `toml:"reaper_timeout_minutes"`
	WebhookStuckMinutes  int `toml:"webhook_stuck_minutes"`
	MaxAdvancePerRun     int `toml:"max_advance_per_run"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for dialqueue.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories, report output, API bind address
//   - Provider: voice-call placement and status-query credentials
//   - LLM: chat-completion settings for greetings and summaries
//   - Invites: calendar-invite endpoint and reference timezone
//   - Correlation: provider-call correlation store backend
//   - Workflow: reaper cadence, stuck deadlines, advance-loop bound
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Provider    Provider    `toml:"provider"`
	LLM         LLM         `toml:"llm"`
	Invites     Invites     `toml:"invites"`
	Correlation Correlation `toml:"correlation"`
	Workflow    Workflow    `toml:"workflow"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/dialqueue/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and secret fields overlaid from the
// environment (a .env file is honored when present).
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	// Secrets may live in the environment instead of the config file.
	_ = godotenv.Load()
	cfg.applyEnvOverrides()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnvOverrides() {
	overlay := func(target *string, key string) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*target = value
		}
	}
	overlay(&c.Provider.APIKey, "DIALQUEUE_PROVIDER_API_KEY")
	overlay(&c.Provider.StatusAccountSID, "DIALQUEUE_STATUS_ACCOUNT_SID")
	overlay(&c.Provider.StatusAuthToken, "DIALQUEUE_STATUS_AUTH_TOKEN")
	overlay(&c.LLM.APIKey, "DIALQUEUE_LLM_API_KEY")
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dialqueue.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if dir := filepath.Dir(c.Paths.ReportPath); dir != "" && dir != "." {
		// Best-effort so config load survives an offline report share.
		_ = os.MkdirAll(dir, 0o755)
	}
	return nil
}

// QueueDBPath returns the SQLite database location under the data directory.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
