package config

import "encoding/json"

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with its secret fields
// masked, safe to log or hand to a diagnostics endpoint.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.AccessToken)
	maskNonEmpty(&cp.TokenStoreDSN)

	return cp
}

// StripSecrets zeros out all secret fields in the config. Used before
// persisting a config record where secrets must never be written at rest.
func (c *Config) StripSecrets() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccessToken = ""
	c.TokenStoreDSN = ""
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}
