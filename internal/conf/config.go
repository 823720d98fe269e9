// Package conf loads and validates bot settings from YAML, environment and defaults.
package conf

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
	"github.com/tphakala/wildlife-id-bot/internal/secrets"
)

// AppName is used for config directories, the MQTT client ID and User-Agent strings.
const AppName = "wildlife-id-bot"

// Settings is the root configuration.
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Main       MainSettings         `mapstructure:"main" yaml:"main"`
	Telegram   TelegramSettings     `mapstructure:"telegram" yaml:"telegram"`
	Bot        BotSettings          `mapstructure:"bot" yaml:"bot"`
	Quota      QuotaSettings        `mapstructure:"quota" yaml:"quota"`
	Cache      CacheSettings        `mapstructure:"cache" yaml:"cache"`
	Requests   RequestSettings      `mapstructure:"requests" yaml:"requests"`
	MediaGroup MediaGroupSettings   `mapstructure:"mediagroup" yaml:"mediagroup"`
	Classifier ClassifierSettings   `mapstructure:"classifier" yaml:"classifier"`
	GBIF       GBIFSettings         `mapstructure:"gbif" yaml:"gbif"`
	EBird      EBirdSettings        `mapstructure:"ebird" yaml:"ebird"`
	Geocode    GeocodeSettings      `mapstructure:"geocode" yaml:"geocode"`
	Wikipedia  WikipediaSettings    `mapstructure:"wikipedia" yaml:"wikipedia"`
	Render     RenderSettings       `mapstructure:"render" yaml:"render"`
	Redis      RedisSettings        `mapstructure:"redis" yaml:"redis"`
	Database   DatabaseSettings     `mapstructure:"database" yaml:"database"`
	MQTT       MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt"`
	Notify     NotifySettings       `mapstructure:"notify" yaml:"notify"`
	Sentry     SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
	HTTP       HTTPSettings         `mapstructure:"http" yaml:"http"`
	Logging    logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// MainSettings holds process-wide values.
type MainSettings struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	ProxyURL    string `mapstructure:"proxyurl" yaml:"proxyurl"` // optional socks5:// or http:// proxy for outbound calls
}

// TelegramSettings configures the chat transport.
type TelegramSettings struct {
	Token        string        `mapstructure:"token" yaml:"token"`
	TokenFile    string        `mapstructure:"tokenfile" yaml:"tokenfile"` // takes precedence over token
	APIEndpoint  string        `mapstructure:"apiendpoint" yaml:"apiendpoint"`
	PollTimeout  int           `mapstructure:"polltimeout" yaml:"polltimeout"` // seconds
	SendRate     float64       `mapstructure:"sendrate" yaml:"sendrate"`       // global messages per second
	ChatSendRate float64       `mapstructure:"chatsendrate" yaml:"chatsendrate"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Debug        bool          `mapstructure:"debug" yaml:"debug"`
}

// BotSettings controls pipeline and group behaviour.
type BotSettings struct {
	AskTarget        bool   `mapstructure:"asktarget" yaml:"asktarget"`               // prompt for "what to identify" when missing
	GroupOfferButton bool   `mapstructure:"groupofferbutton" yaml:"groupofferbutton"` // offer an Identify button for untriggered group photos
	MaxImageSide     int    `mapstructure:"maximageside" yaml:"maximageside"`
	Locale           string `mapstructure:"locale" yaml:"locale"`
	AdminChatID      int64  `mapstructure:"adminchatid" yaml:"adminchatid"`
}

// QuotaSettings configures the weekly identification quota.
type QuotaSettings struct {
	GroupLimit   int           `mapstructure:"grouplimit" yaml:"grouplimit"`
	PrivateLimit int           `mapstructure:"privatelimit" yaml:"privatelimit"`
	ResetWeekday string        `mapstructure:"resetweekday" yaml:"resetweekday"`
	ResetHour    int           `mapstructure:"resethour" yaml:"resethour"`
	Timezone     string        `mapstructure:"timezone" yaml:"timezone"`
	Store        string        `mapstructure:"store" yaml:"store"` // memory, redis or database
	SweepEvery   time.Duration `mapstructure:"sweepevery" yaml:"sweepevery"`
}

// CacheSettings configures result caches.
type CacheSettings struct {
	TTL             time.Duration `mapstructure:"ttl" yaml:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanupinterval" yaml:"cleanupinterval"`
	FullResTTL      time.Duration `mapstructure:"fullresttl" yaml:"fullresttl"`
	OfferTTL        time.Duration `mapstructure:"offerttl" yaml:"offerttl"`
}

// RequestSettings configures the request lifecycle manager.
type RequestSettings struct {
	MaxPerUser        int           `mapstructure:"maxperuser" yaml:"maxperuser"`
	SweepInterval     time.Duration `mapstructure:"sweepinterval" yaml:"sweepinterval"`
	PendingTimeout    time.Duration `mapstructure:"pendingtimeout" yaml:"pendingtimeout"`
	ProcessingTimeout time.Duration `mapstructure:"processingtimeout" yaml:"processingtimeout"`
	TerminalGrace     time.Duration `mapstructure:"terminalgrace" yaml:"terminalgrace"`
}

// MediaGroupSettings configures multi-photo batching.
type MediaGroupSettings struct {
	Window  time.Duration `mapstructure:"window" yaml:"window"`
	MaxWait time.Duration `mapstructure:"maxwait" yaml:"maxwait"`
}

// ClassifierSettings configures the vision classification service.
type ClassifierSettings struct {
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey      string        `mapstructure:"apikey" yaml:"apikey"`
	APIKeyFile  string        `mapstructure:"apikeyfile" yaml:"apikeyfile"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts int           `mapstructure:"maxattempts" yaml:"maxattempts"`
	BaseBackoff time.Duration `mapstructure:"basebackoff" yaml:"basebackoff"`
	MaxBackoff  time.Duration `mapstructure:"maxbackoff" yaml:"maxbackoff"`
}

// GBIFSettings configures the species database client.
type GBIFSettings struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL         string        `mapstructure:"baseurl" yaml:"baseurl"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheTTL        time.Duration `mapstructure:"cachettl" yaml:"cachettl"`
	OccurrenceRange float64       `mapstructure:"occurrencerange" yaml:"occurrencerange"` // degrees around the photo location
}

// EBirdSettings configures the bird taxonomy source.
type EBirdSettings struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	APIKey     string        `mapstructure:"apikey" yaml:"apikey"`
	APIKeyFile string        `mapstructure:"apikeyfile" yaml:"apikeyfile"`
	BaseURL    string        `mapstructure:"baseurl" yaml:"baseurl"`
	Locale     string        `mapstructure:"locale" yaml:"locale"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheTTL   time.Duration `mapstructure:"cachettl" yaml:"cachettl"`
}

// GeocodeSettings configures the location text resolver.
type GeocodeSettings struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL   string        `mapstructure:"baseurl" yaml:"baseurl"`
	Email     string        `mapstructure:"email" yaml:"email"` // Nominatim usage policy contact
	RateLimit float64       `mapstructure:"ratelimit" yaml:"ratelimit"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheTTL  time.Duration `mapstructure:"cachettl" yaml:"cachettl"`
}

// WikipediaSettings configures reference photo lookups.
type WikipediaSettings struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	APIURL    string        `mapstructure:"apiurl" yaml:"apiurl"`
	ThumbSize int           `mapstructure:"thumbsize" yaml:"thumbsize"`
	CacheTTL  time.Duration `mapstructure:"cachettl" yaml:"cachettl"`
}

// RenderSettings configures composite images.
type RenderSettings struct {
	Width        int           `mapstructure:"width" yaml:"width"`
	JPEGQuality  int           `mapstructure:"jpegquality" yaml:"jpegquality"`
	FetchTimeout time.Duration `mapstructure:"fetchtimeout" yaml:"fetchtimeout"`
}

// RedisSettings configures the shared quota store.
type RedisSettings struct {
	Addr         string `mapstructure:"addr" yaml:"addr"`
	Password     string `mapstructure:"password" yaml:"password"`
	PasswordFile string `mapstructure:"passwordfile" yaml:"passwordfile"`
	DB           int    `mapstructure:"db" yaml:"db"`
	KeyPrefix    string `mapstructure:"keyprefix" yaml:"keyprefix"`
}

// DatabaseSettings configures identification history and the persistent quota store.
type DatabaseSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Type    string `mapstructure:"type" yaml:"type"` // sqlite or mysql
	SQLite  struct {
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL struct {
		Host     string `mapstructure:"host" yaml:"host"`
		Port     int    `mapstructure:"port" yaml:"port"`
		Username string `mapstructure:"username" yaml:"username"`
		Password string `mapstructure:"password" yaml:"password"`
		Database string `mapstructure:"database" yaml:"database"`
	} `mapstructure:"mysql" yaml:"mysql"`
}

// MQTTSettings configures identification event publishing.
type MQTTSettings struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker       string `mapstructure:"broker" yaml:"broker"`
	Topic        string `mapstructure:"topic" yaml:"topic"`
	Username     string `mapstructure:"username" yaml:"username"`
	Password     string `mapstructure:"password" yaml:"password"`
	PasswordFile string `mapstructure:"passwordfile" yaml:"passwordfile"`
	Retain       bool   `mapstructure:"retain" yaml:"retain"`
}

// NotifySettings configures admin alerts through shoutrrr service URLs.
type NotifySettings struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	URLs    []string      `mapstructure:"urls" yaml:"urls"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// HTTPSettings configures the metrics and health server.
type HTTPSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configFile (or searches the default paths when empty), applies
// defaults and environment overrides, and validates the result.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)

	v.SetEnvPrefix("WILDLIFEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := readConfigFile(v, configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

func readConfigFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range GetDefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Defaults plus environment are a valid configuration.
			return nil
		}
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Build()
	}
	return nil
}

// GetDefaultConfigPaths lists the directories searched for config.yaml.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", AppName))
	}
	return append(paths, filepath.Join("/etc", AppName))
}

// GetSettings returns the most recently loaded settings, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Location returns the quota timezone, falling back to UTC when invalid.
// ValidateSettings rejects invalid names, so the fallback only matters for
// hand-built Settings in tests.
func (q *QuotaSettings) Location() *time.Location {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Weekday parses ResetWeekday, defaulting to Monday.
func (q *QuotaSettings) Weekday() time.Weekday {
	if wd, ok := parseWeekday(q.ResetWeekday); ok {
		return wd
	}
	return time.Monday
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return time.Sunday, false
}

// resolveSecrets replaces credentials with the contents of their *File
// counterpart or with ${VAR} references expanded.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		key   string
		file  string
		value *string
	}{
		{"telegram.token", s.Telegram.TokenFile, &s.Telegram.Token},
		{"classifier.apikey", s.Classifier.APIKeyFile, &s.Classifier.APIKey},
		{"ebird.apikey", s.EBird.APIKeyFile, &s.EBird.APIKey},
		{"redis.password", s.Redis.PasswordFile, &s.Redis.Password},
		{"mqtt.password", s.MQTT.PasswordFile, &s.MQTT.Password},
	}

	for _, f := range fields {
		resolved, err := secrets.Resolve(f.file, *f.value)
		if err != nil {
			return errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("setting", f.key).
				Build()
		}
		*f.value = resolved
	}
	return nil
}
