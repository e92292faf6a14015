package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Merge decodes values over c. Keys match the JSON names case-insensitively
// and nested objects merge field by field. With strict set, unknown keys are
// an error.
func (c *Config) Merge(values map[string]interface{}, strict bool) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      strict,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(values); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	return nil
}

// Set assigns one dotted key such as "llm.model" or "gateway.port".
func (c *Config) Set(key, value string) error {
	parts := strings.Split(strings.TrimSpace(key), ".")
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("invalid settings key: %q", key)
		}
	}

	var nested interface{} = value
	for i := len(parts) - 1; i >= 0; i-- {
		nested = map[string]interface{}{parts[i]: nested}
	}
	return c.Merge(nested.(map[string]interface{}), true)
}
