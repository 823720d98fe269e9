// Package app assembles the bot from settings and runs it until a
// termination signal.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/bot"
	"github.com/tphakala/wildlife-id-bot/internal/buildinfo"
	"github.com/tphakala/wildlife-id-bot/internal/classifier"
	"github.com/tphakala/wildlife-id-bot/internal/conf"
	"github.com/tphakala/wildlife-id-bot/internal/datastore"
	"github.com/tphakala/wildlife-id-bot/internal/ebird"
	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/events"
	"github.com/tphakala/wildlife-id-bot/internal/gbif"
	"github.com/tphakala/wildlife-id-bot/internal/geocode"
	"github.com/tphakala/wildlife-id-bot/internal/httpclient"
	"github.com/tphakala/wildlife-id-bot/internal/httpserver"
	"github.com/tphakala/wildlife-id-bot/internal/imageprovider"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
	"github.com/tphakala/wildlife-id-bot/internal/mediagroup"
	"github.com/tphakala/wildlife-id-bot/internal/observability"
	"github.com/tphakala/wildlife-id-bot/internal/privacy"
	"github.com/tphakala/wildlife-id-bot/internal/quota"
	"github.com/tphakala/wildlife-id-bot/internal/render"
	"github.com/tphakala/wildlife-id-bot/internal/requests"
	"github.com/tphakala/wildlife-id-bot/internal/resultcache"
	"github.com/tphakala/wildlife-id-bot/internal/telegram"
)

const (
	// pollHeaderMargin is added to the long poll timeout for the Telegram
	// client's response header timeout.
	pollHeaderMargin   = 10 * time.Second
	defaultPollSeconds = 60
	negativePhotoTTL   = 30 * time.Minute
	busShutdownWait    = 5 * time.Second
	httpShutdownWait   = 5 * time.Second
	sentryFlushWait    = 2 * time.Second
	mqttClientPrefix   = conf.AppName + "-"
	defaultHTTPListen  = "127.0.0.1:9464"
)

// App owns every long-lived component of a running bot.
type App struct {
	settings *conf.Settings
	info     buildinfo.BuildInfo
	log      logger.Logger
	started  time.Time

	metrics    *observability.Metrics
	apiHTTP    *httpclient.Client
	tgHTTP     *httpclient.Client
	transport  *telegram.Transport
	datastore  datastore.Interface
	quotaStore quota.Store
	requests   *requests.Manager
	results    *resultcache.Cache[bot.CachedResult]
	fullRes    *resultcache.Cache[bool]
	offers     *resultcache.Cache[bot.Offer]
	groups     *mediagroup.Collector
	photos     *imageprovider.Cache
	bus        *events.Bus
	mqtt       *events.MQTTPublisher
	server     *httpserver.Server
	bot        *bot.Bot
}

// Run builds the bot and serves updates until SIGINT or SIGTERM.
func Run(ctx context.Context, settings *conf.Settings, info buildinfo.BuildInfo) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := conf.ValidateForRun(settings); err != nil {
		return err
	}
	if err := initSentry(settings, info); err != nil {
		// Telemetry is optional; the bot runs without it.
		logger.Global().Module("app").Warn("sentry disabled", logger.Error(err))
	}

	a, err := New(ctx, settings, info)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func initSentry(settings *conf.Settings, info buildinfo.BuildInfo) error {
	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	dsn := ""
	if settings.Sentry.Enabled {
		dsn = settings.Sentry.DSN
	}
	return errors.InitSentry(dsn, info.Version(), settings.Main.Environment, settings.Debug)
}

// New wires every component. On error the components built so far are
// closed again.
func New(ctx context.Context, settings *conf.Settings, info buildinfo.BuildInfo) (_ *App, err error) {
	a := &App{
		settings: settings,
		info:     info,
		log:      logger.Global().Module("app"),
		started:  time.Now(),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.metrics, err = observability.NewMetrics(); err != nil {
		return nil, err
	}
	if err = a.initHTTPClients(); err != nil {
		return nil, err
	}

	tg := settings.Telegram
	a.transport, err = telegram.New(telegram.Config{
		Token:        tg.Token,
		APIEndpoint:  tg.APIEndpoint,
		PollTimeout:  tg.PollTimeout,
		SendRate:     tg.SendRate,
		ChatSendRate: tg.ChatSendRate,
		Debug:        tg.Debug,
	}, a.tgHTTP)
	if err != nil {
		return nil, err
	}

	if a.datastore, err = OpenDatastore(settings); err != nil {
		return nil, err
	}
	if a.quotaStore, err = OpenQuotaStore(ctx, settings, a.datastore); err != nil {
		return nil, err
	}
	tracker := NewTracker(settings, a.quotaStore)

	r := settings.Requests
	a.requests = requests.NewManager(requests.Config{
		MaxPerUser:        r.MaxPerUser,
		SweepInterval:     r.SweepInterval,
		PendingTimeout:    r.PendingTimeout,
		ProcessingTimeout: r.ProcessingTimeout,
		TerminalGrace:     r.TerminalGrace,
	},
		requests.WithLogger(logger.Global().Module("requests")),
		requests.WithRecorder(a.metrics.Bot))

	c := settings.Cache
	a.results = resultcache.New[bot.CachedResult](c.TTL, c.CleanupInterval)
	a.fullRes = resultcache.New[bool](c.FullResTTL, c.CleanupInterval)
	a.offers = resultcache.New[bot.Offer](c.OfferTTL, c.CleanupInterval)
	a.groups = mediagroup.New(settings.MediaGroup.Window, settings.MediaGroup.MaxWait)

	if err = a.initEvents(); err != nil {
		return nil, err
	}

	deps, err := a.clients()
	if err != nil {
		return nil, err
	}
	deps.Transport = a.transport
	deps.Requests = a.requests
	deps.Quota = tracker
	deps.Results = a.results
	deps.FullRes = a.fullRes
	deps.Offers = a.offers
	deps.Groups = a.groups
	deps.Events = a.bus
	deps.Metrics = a.metrics.Bot
	deps.Logger = logger.Global().Module("bot")
	if a.datastore != nil {
		deps.History = a.datastore
	}

	a.bot, err = bot.New(bot.Config{
		AskTarget:        settings.Bot.AskTarget,
		GroupOfferButton: settings.Bot.GroupOfferButton,
		MaxImageSide:     settings.Bot.MaxImageSide,
		JPEGQuality:      settings.Render.JPEGQuality,
		Version:          info.Version(),
	}, deps)
	if err != nil {
		return nil, err
	}

	if err = a.registerGauges(); err != nil {
		return nil, err
	}
	if settings.HTTP.Enabled {
		a.initServer()
	}
	return a, nil
}

// initHTTPClients creates one client for the data sources and one for
// Telegram, whose long poll needs a longer response header timeout.
func (a *App) initHTTPClients() error {
	s := a.settings
	base := httpclient.DefaultConfig()
	base.UserAgent = conf.AppName + "/" + a.info.Version()
	base.ProxyURL = s.Main.ProxyURL

	api, err := httpclient.New(&base)
	if err != nil {
		return err
	}
	api.SetAfterResponseHook(a.metrics.Outbound.Observe)
	a.apiHTTP = api

	tgCfg := base
	if s.Telegram.Timeout > 0 {
		tgCfg.DefaultTimeout = s.Telegram.Timeout
	}
	poll := s.Telegram.PollTimeout
	if poll <= 0 {
		poll = defaultPollSeconds
	}
	tgCfg.ResponseHeaderTimeout = time.Duration(poll)*time.Second + pollHeaderMargin
	tgHTTP, err := httpclient.New(&tgCfg)
	if err != nil {
		return err
	}
	tgHTTP.SetAfterResponseHook(a.metrics.Outbound.Observe)
	a.tgHTTP = tgHTTP
	return nil
}

// clients builds the classifier and the optional data sources. Disabled
// sources stay nil in Deps so the bot skips them.
func (a *App) clients() (bot.Deps, error) {
	s := a.settings
	var deps bot.Deps

	cl := s.Classifier
	classify, err := classifier.New(classifier.Config{
		Endpoint:    cl.Endpoint,
		APIKey:      cl.APIKey,
		Model:       cl.Model,
		Timeout:     cl.Timeout,
		MaxAttempts: cl.MaxAttempts,
		BaseBackoff: cl.BaseBackoff,
		MaxBackoff:  cl.MaxBackoff,
	}, a.apiHTTP, classifier.WithLogger(logger.Global().Module("classifier")))
	if err != nil {
		return deps, err
	}
	deps.Classifier = classify

	if s.GBIF.Enabled {
		deps.Species = gbif.New(gbif.Config{
			BaseURL:         s.GBIF.BaseURL,
			Timeout:         s.GBIF.Timeout,
			CacheTTL:        s.GBIF.CacheTTL,
			OccurrenceRange: s.GBIF.OccurrenceRange,
		}, a.apiHTTP)
	}

	if s.EBird.Enabled {
		eb, err := ebird.NewClient(ebird.Config{
			APIKey:   s.EBird.APIKey,
			BaseURL:  s.EBird.BaseURL,
			Locale:   s.EBird.Locale,
			Timeout:  s.EBird.Timeout,
			CacheTTL: s.EBird.CacheTTL,
		}, a.apiHTTP)
		if err != nil {
			a.log.Warn("eBird disabled", logger.Error(err))
		} else {
			deps.Taxonomy = eb
		}
	}

	if s.Geocode.Enabled {
		deps.Geocoder = geocode.New(geocode.Config{
			BaseURL:   s.Geocode.BaseURL,
			Email:     s.Geocode.Email,
			RateLimit: s.Geocode.RateLimit,
			Timeout:   s.Geocode.Timeout,
			CacheTTL:  s.Geocode.CacheTTL,
		}, a.apiHTTP)
	}

	if s.Wikipedia.Enabled {
		wp, err := imageprovider.NewWikipediaProvider(imageprovider.WikipediaConfig{
			APIURL:    s.Wikipedia.APIURL,
			ThumbSize: s.Wikipedia.ThumbSize,
			Version:   a.info.Version(),
		})
		if err != nil {
			a.log.Warn("reference photos disabled", logger.Error(err))
		} else {
			a.photos = imageprovider.NewCache(wp, s.Wikipedia.CacheTTL, negativePhotoTTL)
			deps.Photos = a.photos
		}
	}

	deps.Renderer = render.New(render.Config{
		Width:        s.Render.Width,
		JPEGQuality:  s.Render.JPEGQuality,
		FetchTimeout: s.Render.FetchTimeout,
	}, a.apiHTTP)
	return deps, nil
}

// initEvents starts the event bus and registers the enabled consumers.
func (a *App) initEvents() error {
	s := a.settings
	a.bus = events.NewBus(events.DefaultConfig())

	if s.MQTT.Enabled {
		name := s.Main.Name
		if name == "" {
			name = "bot"
		}
		pub, err := events.NewMQTTPublisher(events.MQTTConfig{
			Broker:   s.MQTT.Broker,
			ClientID: mqttClientPrefix + name,
			Username: s.MQTT.Username,
			Password: s.MQTT.Password,
			Topic:    s.MQTT.Topic,
			Retain:   s.MQTT.Retain,
		})
		if err != nil {
			return err
		}
		a.mqtt = pub
		if err := a.bus.Register(pub); err != nil {
			return err
		}
	}

	if s.Notify.Enabled && len(s.Notify.URLs) > 0 {
		n, err := events.NewShoutrrrNotifier(s.Notify.URLs, s.Notify.Timeout)
		if err != nil {
			return err
		}
		if err := a.bus.Register(n); err != nil {
			return err
		}
	}

	if s.Bot.AdminChatID != 0 {
		if err := a.bus.Register(&adminChat{transport: a.transport, chatID: s.Bot.AdminChatID}); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) registerGauges() error {
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"bot_requests_active", "Requests that have not reached a terminal state.", func() float64 {
			return float64(a.requests.Stats().Active)
		}},
		{"bot_media_groups_pending", "Albums still collecting photos.", func() float64 {
			return float64(a.groups.Pending())
		}},
		{"bot_result_cache_entries", "Cached identification results.", func() float64 {
			return float64(a.results.ItemCount())
		}},
		{"bot_events_dropped_total", "Events dropped because the bus buffer was full.", func() float64 {
			return float64(a.bus.Stats().Dropped)
		}},
	}
	for _, g := range gauges {
		if err := a.metrics.RegisterGaugeFunc(g.name, g.help, g.fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) initServer() {
	listen := a.settings.HTTP.Listen
	if listen == "" {
		listen = defaultHTTPListen
	}
	a.server = httpserver.New(listen,
		httpserver.WithMetricsHandler(a.metrics.Handler()),
		httpserver.WithStats(statsProvider{app: a}),
		httpserver.WithLogger(logger.Global().Module("httpserver")))
	if a.datastore != nil {
		a.server.AddHealthCheck("database", func(ctx context.Context) error {
			db, err := a.datastore.Gorm().DB()
			if err != nil {
				return err
			}
			return db.PingContext(ctx)
		})
	}
}

// Run polls for updates until ctx ends, then shuts down in order: stop
// polling, release open albums, wait for handlers, stop the sweepers and
// close the stores.
func (a *App) Run(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			a.close()
			return err
		}
	}
	a.requests.Start(context.Background())

	pollCtx, stopPolling := context.WithCancel(context.Background())
	updates, err := a.transport.Updates(pollCtx)
	if err != nil {
		stopPolling()
		a.close()
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.bot.Run(pollCtx, updates)
	}()
	a.log.Info("wildlife ID bot running",
		logger.String("version", a.info.Version()),
		logger.String("quota_store", a.settings.Quota.Store),
		logger.Bool("database", a.datastore != nil),
		logger.Bool("http", a.server != nil))

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case <-done:
		a.log.Warn("update stream ended")
	}

	stopPolling()
	a.groups.Flush()
	<-done
	a.close()
	return nil
}

// close releases everything New created. Components that were never built
// are skipped.
func (a *App) close() {
	if a.requests != nil {
		a.requests.Stop()
	}
	if a.results != nil {
		a.results.Close()
	}
	if a.fullRes != nil {
		a.fullRes.Close()
	}
	if a.offers != nil {
		a.offers.Close()
	}
	if a.quotaStore != nil {
		if err := a.quotaStore.Close(); err != nil {
			a.log.Warn("failed to close quota store", logger.Error(err))
		}
	}
	if a.bus != nil {
		if err := a.bus.Shutdown(busShutdownWait); err != nil {
			a.log.Warn("event bus did not drain", logger.Error(err))
		}
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownWait)
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("http server shutdown failed", logger.Error(err))
		}
		cancel()
	}
	if a.datastore != nil {
		closeDataStore(a.datastore, a.log)
	}
	if a.apiHTTP != nil {
		a.apiHTTP.Close()
	}
	if a.tgHTTP != nil {
		a.tgHTTP.Close()
	}

	errors.FlushSentry(sentryFlushWait)
	if err := logger.Global().Flush(); err != nil {
		a.log.Warn("failed to flush logs", logger.Error(err))
	}
}
