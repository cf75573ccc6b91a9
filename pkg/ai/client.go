// Package ai holds the classifier and rewrite adapters backed by an
// OpenAI-compatible chat completions endpoint. Both adapters degrade to
// deterministic fallbacks instead of failing: an AI outage must never abort
// a workflow.
package ai

import (
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
)

const requestTimeout = 30 * time.Second

// Config is injected explicitly; adapters never reach for global settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Client struct {
	cfg Config
	api *openai.Client
}

func NewClient(cfg Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}

	return &Client{
		cfg: cfg,
		api: openai.NewClientWithConfig(clientConfig),
	}
}

func (c *Client) hasAPIKey() bool {
	return c.cfg.APIKey != ""
}

// truncate bounds email fields embedded into prompts to cap prompt size and
// cost. Cuts on a rune boundary so prompts stay valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}

	return s[:max]
}
