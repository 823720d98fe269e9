// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers a default for every setting.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", AppName)
	v.SetDefault("main.environment", "production")
	v.SetDefault("main.proxyurl", "")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.apiendpoint", "https://api.telegram.org/bot%s/%s")
	v.SetDefault("telegram.polltimeout", 60)
	v.SetDefault("telegram.sendrate", 25.0)
	v.SetDefault("telegram.chatsendrate", 1.0)
	v.SetDefault("telegram.timeout", 30*time.Second)
	v.SetDefault("telegram.debug", false)

	v.SetDefault("bot.asktarget", true)
	v.SetDefault("bot.groupofferbutton", true)
	v.SetDefault("bot.maximageside", 1600)
	v.SetDefault("bot.locale", "en")
	v.SetDefault("bot.adminchatid", 0)

	v.SetDefault("quota.grouplimit", 10)
	v.SetDefault("quota.privatelimit", 3)
	v.SetDefault("quota.resetweekday", "monday")
	v.SetDefault("quota.resethour", 0)
	v.SetDefault("quota.timezone", "Asia/Singapore")
	v.SetDefault("quota.store", "memory")
	v.SetDefault("quota.sweepevery", time.Hour)

	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.cleanupinterval", time.Minute)
	v.SetDefault("cache.fullresttl", 24*time.Hour)
	v.SetDefault("cache.offerttl", 30*time.Minute)

	v.SetDefault("requests.maxperuser", 5)
	v.SetDefault("requests.sweepinterval", time.Minute)
	v.SetDefault("requests.pendingtimeout", 5*time.Minute)
	v.SetDefault("requests.processingtimeout", 3*time.Minute)
	v.SetDefault("requests.terminalgrace", 5*time.Minute)

	v.SetDefault("mediagroup.window", time.Second)
	v.SetDefault("mediagroup.maxwait", 5*time.Second)

	v.SetDefault("classifier.endpoint", "http://localhost:8081/v1/classify")
	v.SetDefault("classifier.apikey", "")
	v.SetDefault("classifier.model", "")
	v.SetDefault("classifier.timeout", 60*time.Second)
	v.SetDefault("classifier.maxattempts", 3)
	v.SetDefault("classifier.basebackoff", 2*time.Second)
	v.SetDefault("classifier.maxbackoff", 20*time.Second)

	v.SetDefault("gbif.enabled", true)
	v.SetDefault("gbif.baseurl", "https://api.gbif.org/v1")
	v.SetDefault("gbif.timeout", 10*time.Second)
	v.SetDefault("gbif.cachettl", 24*time.Hour)
	v.SetDefault("gbif.occurrencerange", 0.5)

	v.SetDefault("ebird.enabled", false)
	v.SetDefault("ebird.apikey", "")
	v.SetDefault("ebird.baseurl", "https://api.ebird.org/v2")
	v.SetDefault("ebird.locale", "en")
	v.SetDefault("ebird.timeout", 15*time.Second)
	v.SetDefault("ebird.cachettl", 24*time.Hour)

	v.SetDefault("geocode.enabled", true)
	v.SetDefault("geocode.baseurl", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.email", "")
	v.SetDefault("geocode.ratelimit", 1.0)
	v.SetDefault("geocode.timeout", 10*time.Second)
	v.SetDefault("geocode.cachettl", 24*time.Hour)

	v.SetDefault("wikipedia.enabled", true)
	v.SetDefault("wikipedia.apiurl", "https://en.wikipedia.org/w/api.php")
	v.SetDefault("wikipedia.thumbsize", 800)
	v.SetDefault("wikipedia.cachettl", 24*time.Hour)

	v.SetDefault("render.width", 1024)
	v.SetDefault("render.jpegquality", 88)
	v.SetDefault("render.fetchtimeout", 15*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyprefix", "wildlifebot:quota:")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite.path", "wildlife-id-bot.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "wildlifebot")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", AppName+"/identifications")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.urls", []string{})
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen", ":9090")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.console.json", false)
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/"+AppName+".log")
	v.SetDefault("logging.file_output.level", "info")
}
