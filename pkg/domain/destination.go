package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
)

type DestinationType string

const (
	DestinationEmail    DestinationType = "EMAIL"
	DestinationTelegram DestinationType = "TELEGRAM"
	DestinationDiscord  DestinationType = "DISCORD"
	DestinationSlack    DestinationType = "SLACK"
	DestinationWebhook  DestinationType = "WEBHOOK"
)

// Destination is where a forward delivers. Immutable once validated: rules
// are checked at save time and consumed untouched at dispatch time.
type Destination struct {
	Type DestinationType `json:"type"`

	// EMAIL
	To string `json:"to,omitempty"`

	// TELEGRAM
	Token  string `json:"token,omitempty"`
	ChatID string `json:"chatId,omitempty"`

	// DISCORD / SLACK / WEBHOOK
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (d *Destination) Validate() error {
	switch d.Type {
	case DestinationEmail:
		if d.To == "" {
			return fmt.Errorf("%w: email destination requires a recipient", ErrConfigValidation)
		}

	case DestinationTelegram:
		if d.Token == "" || d.ChatID == "" {
			return fmt.Errorf("%w: telegram destination requires token and chatId", ErrConfigValidation)
		}

	case DestinationDiscord, DestinationSlack, DestinationWebhook:
		parsed, err := url.Parse(d.URL)
		if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("%w: destination url %q is not an absolute http(s) url", ErrConfigValidation, d.URL)
		}
		if d.Headers == nil {
			d.Headers = map[string]string{}
		}

	default:
		return fmt.Errorf("%w: unknown destination type %q", ErrConfigValidation, d.Type)
	}

	return nil
}

// ParseDestination decodes and validates a single destination document.
func ParseDestination(raw []byte) (Destination, error) {
	var dest Destination

	if err := json.Unmarshal(raw, &dest); err != nil {
		return Destination{}, fmt.Errorf("%w: %v", ErrConfigValidation, err)
	}

	if err := dest.Validate(); err != nil {
		return Destination{}, err
	}

	return dest, nil
}

const (
	ForwardRuleVersion2 = 2
	ForwardRuleVersion3 = 3
)

// ForwardRuleConfig is the stored configuration of one forwarding rule. Two
// schema versions are live: v2 embeds its single destination, v3 keeps
// destinations in separate target records so one rule can fan out.
type ForwardRuleConfig struct {
	Version     int          `json:"version"`
	Destination *Destination `json:"destination,omitempty"`
	Conditions  *Condition   `json:"conditions,omitempty"`
	Template    string       `json:"template,omitempty"`
}

// ForwardTarget is a v3 destination record attached to a rule.
type ForwardTarget struct {
	ID          string
	Type        DestinationType
	Destination Destination
}

type forwardTargetJSON struct {
	ID     string          `json:"id,omitempty"`
	Type   DestinationType `json:"type"`
	Config json.RawMessage `json:"config"`
}

func (t ForwardTarget) MarshalJSON() ([]byte, error) {
	config, err := json.Marshal(t.Destination)
	if err != nil {
		return nil, err
	}

	return json.Marshal(forwardTargetJSON{ID: t.ID, Type: t.Type, Config: config})
}

func (t *ForwardTarget) UnmarshalJSON(data []byte) error {
	var raw forwardTargetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigValidation, err)
	}

	var dest Destination
	if len(raw.Config) > 0 {
		if err := json.Unmarshal(raw.Config, &dest); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigValidation, err)
		}
	}

	// The target record's type wins over anything embedded in config.
	dest.Type = raw.Type

	if err := dest.Validate(); err != nil {
		return err
	}

	*t = ForwardTarget{ID: raw.ID, Type: raw.Type, Destination: dest}
	return nil
}

// ParseForwardRuleConfig reads a stored rule config. Legacy rows predate the
// version field and hold a bare destination document; those are wrapped into
// a v2 config on read.
func ParseForwardRuleConfig(raw []byte) (ForwardRuleConfig, error) {
	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ForwardRuleConfig{}, fmt.Errorf("%w: %v", ErrConfigValidation, err)
	}

	if probe.Version == nil {
		dest, err := ParseDestination(raw)
		if err != nil {
			return ForwardRuleConfig{}, err
		}

		return ForwardRuleConfig{Version: ForwardRuleVersion2, Destination: &dest}, nil
	}

	var config ForwardRuleConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return ForwardRuleConfig{}, fmt.Errorf("%w: %v", ErrConfigValidation, err)
	}

	switch config.Version {
	case ForwardRuleVersion2:
		if config.Destination == nil {
			return ForwardRuleConfig{}, fmt.Errorf("%w: v2 rule requires a destination", ErrConfigValidation)
		}
		if err := config.Destination.Validate(); err != nil {
			return ForwardRuleConfig{}, err
		}

	case ForwardRuleVersion3:
		if config.Destination != nil {
			return ForwardRuleConfig{}, fmt.Errorf("%w: v3 rule destinations live in target records", ErrConfigValidation)
		}

	default:
		return ForwardRuleConfig{}, fmt.Errorf("%w: unsupported rule version %d", ErrConfigValidation, config.Version)
	}

	return config, nil
}
