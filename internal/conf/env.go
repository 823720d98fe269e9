// env.go - well-known environment variables for container deployments
package conf

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

// getEnvBindings lists variables that do not follow the WILDLIFEBOT_<KEY> scheme.
// Everything else is covered by viper's AutomaticEnv.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"telegram.token", "TELEGRAM_BOT_TOKEN", validateEnvBotToken},
		{"classifier.endpoint", "CLASSIFIER_ENDPOINT", validateEnvURL},
		{"classifier.apikey", "CLASSIFIER_API_KEY", nil},
		{"ebird.apikey", "EBIRD_API_KEY", nil},
		{"redis.addr", "REDIS_ADDR", nil},
		{"redis.password", "REDIS_PASSWORD", nil},
		{"sentry.dsn", "SENTRY_DSN", validateEnvURL},
		{"quota.grouplimit", "QUOTA_GROUP_LIMIT", validateEnvPositiveInt},
		{"quota.privatelimit", "QUOTA_PRIVATE_LIMIT", validateEnvPositiveInt},
		{"quota.timezone", "QUOTA_TIMEZONE", validateEnvTimezone},
	}
}

// bindEnvVars binds the well-known variables and validates any that are set.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		// Keep the prefixed name working alongside the alias.
		prefixed := "WILDLIFEBOT_" + strings.ToUpper(strings.ReplaceAll(binding.ConfigKey, ".", "_"))
		if err := v.BindEnv(binding.ConfigKey, prefixed, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s: %v", binding.EnvVar, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

var botTokenPattern = regexp.MustCompile(`^\d{5,}:[A-Za-z0-9_-]{30,}$`)

func validateEnvBotToken(value string) error {
	if !botTokenPattern.MatchString(value) {
		return fmt.Errorf("does not look like a bot token")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n <= 0 {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}

func validateEnvTimezone(value string) error {
	_, err := loadLocation(value)
	return err
}
