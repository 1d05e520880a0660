package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks the configuration for missing or inconsistent values and
// returns an aggregate error describing every problem found.
func (c *Config) Validate() error {
	var problems []string

	if c.Paths.DataDir == "" {
		problems = append(problems, "paths.data_dir is required")
	}
	if c.Paths.LogDir == "" {
		problems = append(problems, "paths.log_dir is required")
	}
	if c.Paths.APIBind == "" {
		problems = append(problems, "paths.api_bind is required")
	}

	if c.Provider.RequestTimeout <= 0 {
		problems = append(problems, "provider.request_timeout must be positive")
	}
	if c.Provider.PollInterval <= 0 {
		problems = append(problems, "provider.poll_interval must be positive")
	}
	if c.Provider.PollMaxWait < c.Provider.PollInterval {
		problems = append(problems, "provider.poll_max_wait must be at least provider.poll_interval")
	}

	if c.LLM.TimeoutSeconds <= 0 {
		problems = append(problems, "llm.timeout_seconds must be positive")
	}

	if c.Invites.Timezone != "" {
		if _, err := time.LoadLocation(c.Invites.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("invites.timezone %q is not a valid IANA zone", c.Invites.Timezone))
		}
	}
	if c.Invites.DurationMinutes <= 0 {
		problems = append(problems, "invites.duration_minutes must be positive")
	}

	switch c.Correlation.Backend {
	case "memory":
	case "redis":
		if c.Correlation.RedisAddr == "" {
			problems = append(problems, "correlation.redis_addr is required when correlation.backend is redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("correlation.backend must be memory or redis, got %q", c.Correlation.Backend))
	}
	if c.Correlation.TTLMinutes <= 0 {
		problems = append(problems, "correlation.ttl_minutes must be positive")
	}

	if c.Workflow.ReaperInterval <= 0 {
		problems = append(problems, "workflow.reaper_interval must be positive")
	}
	if c.Workflow.ReaperTimeoutMinutes <= 0 {
		problems = append(problems, "workflow.reaper_timeout_minutes must be positive")
	}
	if c.Workflow.WebhookStuckMinutes <= 0 {
		problems = append(problems, "workflow.webhook_stuck_minutes must be positive")
	}
	if c.Workflow.MaxAdvancePerRun <= 0 {
		problems = append(problems, "workflow.max_advance_per_run must be positive")
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json, got %q", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
