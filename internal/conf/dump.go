package conf

import (
	"gopkg.in/yaml.v3"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
)

const redacted = "[REDACTED]"

// Dump renders the effective settings as YAML with secrets masked.
func (s *Settings) Dump() ([]byte, error) {
	c := *s
	mask := func(v *string) {
		if *v != "" {
			*v = redacted
		}
	}
	mask(&c.Telegram.Token)
	mask(&c.Classifier.APIKey)
	mask(&c.EBird.APIKey)
	mask(&c.Redis.Password)
	mask(&c.Database.MySQL.Password)
	mask(&c.MQTT.Password)
	mask(&c.Sentry.DSN)
	if len(c.Notify.URLs) > 0 {
		c.Notify.URLs = []string{redacted}
	}

	out, err := yaml.Marshal(&c)
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "dump").
			Build()
	}
	return out, nil
}
