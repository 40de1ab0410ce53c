package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"host":               "service.host",
	"port":               "service.port",
	"metrics-addr":       "service.metrics_addr",
	"request-timeout":    "service.request_timeout",
	"max-conditions":     "service.max_conditions",
	"recalc-concurrency": "service.recalc_concurrency",
}

// LoadConfig loads configuration from an optional file and the environment.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	return LoadConfigWithFlags(configPath, nil)
}

// LoadConfigWithFlags is LoadConfig with flags layered on top.
// Precedence: changed flags > environment > config file > defaults.
func LoadConfigWithFlags(configPath string, flags *pflag.FlagSet) (*ServiceConfig, error) {
	v := viper.New()

	def := DefaultServiceConfig()
	v.SetDefault("service.host", def.Host)
	v.SetDefault("service.port", def.Port)
	v.SetDefault("service.metrics_addr", def.MetricsAddr)
	v.SetDefault("service.request_timeout", def.RequestTimeout.String())
	v.SetDefault("service.max_conditions", def.MaxConditions)
	v.SetDefault("service.recalc_concurrency", def.RecalcConcurrency)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &ServiceConfig{
		Host:              v.GetString("service.host"),
		Port:              v.GetInt("service.port"),
		MetricsAddr:       v.GetString("service.metrics_addr"),
		RequestTimeout:    v.GetDuration("service.request_timeout"),
		MaxConditions:     v.GetInt("service.max_conditions"),
		RecalcConcurrency: v.GetInt("service.recalc_concurrency"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validateConfig(cfg *ServiceConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.RequestTimeout)
	}
	if cfg.MaxConditions <= 0 {
		return fmt.Errorf("max_conditions must be positive, got %d", cfg.MaxConditions)
	}
	if cfg.RecalcConcurrency <= 0 {
		return fmt.Errorf("recalc_concurrency must be positive, got %d", cfg.RecalcConcurrency)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("service.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use %s_HMAC_SECRET environment variable)", envPrefix)
	}
	return nil
}
