package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the automation engine's settings. Adapters receive these
// explicitly; nothing reads settings from a global at call time.
type Config struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	ResendAPIKey       string
	ForwardFromAddress string
}

// Load reads configuration from an optional yaml file and environment
// variables. All keys are optional: without an OpenAI key the AI adapters
// fall back, without a Resend key email forwarding reports itself
// unconfigured.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envMappings := map[string]string{
		"OpenAIAPIKey":       "OPENAI_API_KEY",
		"OpenAIBaseURL":      "OPENAI_BASE_URL",
		"OpenAIModel":        "OPENAI_MODEL",
		"ResendAPIKey":       "RESEND_API_KEY",
		"ForwardFromAddress": "FORWARD_FROM_ADDRESS",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	v.SetConfigName("vapormail")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.vapormail")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ForwardFromAddress", "forwarder@vapormail.local")
}
