// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ErrorCategory marks validation failures as configuration errors.
func (ve ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConfiguration
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(s *Settings) error {
	ve := ValidationError{}
	add := func(err error) {
		if err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	add(validateQuotaSettings(&s.Quota))
	add(validateRequestSettings(&s.Requests))
	add(validateCacheSettings(&s.Cache))
	add(validateMediaGroupSettings(&s.MediaGroup))
	add(validateClassifierSettings(&s.Classifier))
	add(validateStorageSettings(s))
	add(validateHTTPSettings(&s.HTTP))

	if s.EBird.Enabled && s.EBird.APIKey == "" {
		add(fmt.Errorf("ebird.apikey is required when ebird is enabled"))
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		add(fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}
	if s.Notify.Enabled && len(s.Notify.URLs) == 0 {
		add(fmt.Errorf("notify.urls must list at least one URL when notify is enabled"))
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		add(fmt.Errorf("sentry.dsn is required when sentry is enabled"))
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// ValidateForRun adds checks that only matter when the bot actually starts.
func ValidateForRun(s *Settings) error {
	if s.Telegram.Token == "" {
		return ValidationError{Errors: []string{"telegram.token is required (set TELEGRAM_BOT_TOKEN)"}}
	}
	return nil
}

func validateQuotaSettings(q *QuotaSettings) error {
	var errs []string
	if q.GroupLimit <= 0 {
		errs = append(errs, "quota.grouplimit must be greater than zero")
	}
	if q.PrivateLimit <= 0 {
		errs = append(errs, "quota.privatelimit must be greater than zero")
	}
	if _, ok := parseWeekday(q.ResetWeekday); !ok {
		errs = append(errs, fmt.Sprintf("quota.resetweekday %q is not a weekday", q.ResetWeekday))
	}
	if q.ResetHour < 0 || q.ResetHour > 23 {
		errs = append(errs, "quota.resethour must be between 0 and 23")
	}
	if _, err := loadLocation(q.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("quota.timezone: %v", err))
	}
	switch q.Store {
	case "memory", "redis", "database":
	default:
		errs = append(errs, fmt.Sprintf("quota.store %q must be memory, redis or database", q.Store))
	}
	return joinErrs(errs)
}

func validateRequestSettings(r *RequestSettings) error {
	var errs []string
	if r.MaxPerUser <= 0 {
		errs = append(errs, "requests.maxperuser must be greater than zero")
	}
	if r.SweepInterval <= 0 {
		errs = append(errs, "requests.sweepinterval must be positive")
	}
	if r.PendingTimeout <= 0 || r.ProcessingTimeout <= 0 || r.TerminalGrace < 0 {
		errs = append(errs, "requests timeouts must be positive")
	}
	return joinErrs(errs)
}

func validateCacheSettings(c *CacheSettings) error {
	if c.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.CleanupInterval <= 0 || c.CleanupInterval >= c.TTL {
		return fmt.Errorf("cache.cleanupinterval must be positive and shorter than cache.ttl")
	}
	return nil
}

func validateMediaGroupSettings(m *MediaGroupSettings) error {
	if m.Window <= 0 {
		return fmt.Errorf("mediagroup.window must be positive")
	}
	if m.MaxWait < m.Window {
		return fmt.Errorf("mediagroup.maxwait must not be shorter than mediagroup.window")
	}
	return nil
}

func validateClassifierSettings(c *ClassifierSettings) error {
	var errs []string
	if err := validateEnvURL(c.Endpoint); err != nil {
		errs = append(errs, fmt.Sprintf("classifier.endpoint: %v", err))
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		errs = append(errs, "classifier.maxattempts must be between 1 and 10")
	}
	if c.Timeout <= 0 {
		errs = append(errs, "classifier.timeout must be positive")
	}
	return joinErrs(errs)
}

func validateStorageSettings(s *Settings) error {
	if s.Quota.Store == "database" && !s.Database.Enabled {
		return fmt.Errorf("quota.store=database requires database.enabled")
	}
	if !s.Database.Enabled {
		return nil
	}
	switch s.Database.Type {
	case "sqlite":
		if s.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "mysql":
		if s.Database.MySQL.Host == "" || s.Database.MySQL.Database == "" {
			return fmt.Errorf("database.mysql.host and database.mysql.database are required")
		}
	default:
		return fmt.Errorf("database.type %q must be sqlite or mysql", s.Database.Type)
	}
	return nil
}

func validateHTTPSettings(h *HTTPSettings) error {
	if !h.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(h.Listen); err != nil {
		return fmt.Errorf("http.listen: %w", err)
	}
	return nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("timezone must not be empty")
	}
	return time.LoadLocation(name)
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}
