package config

import "strings"

func (c *Config) normalize() error {
	paths := []*string{
		&c.Paths.DataDir,
		&c.Paths.LogDir,
		&c.Paths.ReportPath,
	}
	for _, p := range paths {
		expanded, err := expandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)

	c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.BaseURL), "/")
	c.Provider.StatusBaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.StatusBaseURL), "/")
	c.Provider.DefaultCountry = strings.TrimSpace(c.Provider.DefaultCountry)
	if c.Provider.DefaultCountry == "" {
		c.Provider.DefaultCountry = "1"
	}

	c.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.BaseURL), "/")
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)

	c.Invites.Endpoint = strings.TrimSpace(c.Invites.Endpoint)
	c.Invites.Timezone = strings.TrimSpace(c.Invites.Timezone)

	c.Correlation.Backend = strings.ToLower(strings.TrimSpace(c.Correlation.Backend))
	c.Correlation.RedisAddr = strings.TrimSpace(c.Correlation.RedisAddr)

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	return nil
}
