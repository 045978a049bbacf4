package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking-assistant/internal/api/router"
	"github.com/wolfman30/clinic-booking-assistant/internal/archive"
	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/booking"
	"github.com/wolfman30/clinic-booking-assistant/internal/calllog"
	"github.com/wolfman30/clinic-booking-assistant/internal/channels/voice"
	"github.com/wolfman30/clinic-booking-assistant/internal/channels/webchat"
	"github.com/wolfman30/clinic-booking-assistant/internal/channels/whatsapp"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	appconfig "github.com/wolfman30/clinic-booking-assistant/internal/config"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/internal/events"
	"github.com/wolfman30/clinic-booking-assistant/internal/notify"
	"github.com/wolfman30/clinic-booking-assistant/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-assistant/internal/reminders"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// ErrDatabaseRequired is returned when DATABASE_URL is unset or unreachable.
var ErrDatabaseRequired = errors.New("bootstrap: a reachable DATABASE_URL is required")

// Core is the booking core every binary shares: storage, the booking
// service, the conversation engine and the patient channels.
type Core struct {
	Config *appconfig.Config
	Logger *logging.Logger
	AWS    aws.Config

	Pool  *pgxpool.Pool
	SQL   *sql.DB
	Redis *redis.Client

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Sessions    session.Store
	ClinicStore *clinic.Store
	Clinics     clinic.Directory
	Bookings    *booking.Store
	Booking     *booking.Service
	Reminders   *reminders.Store
	Outbox      *events.OutboxStore
	Processed   *events.ProcessedStore
	Messengers  Messengers
	Engine      *conversation.Engine
}

// BuildCore connects storage and assembles the booking core.
func BuildCore(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*Core, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	pool := ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		return nil, ErrDatabaseRequired
	}

	c := &Core{
		Config:   cfg,
		Logger:   logger,
		AWS:      awsCfg,
		Pool:     pool,
		SQL:      OpenSQLDB(cfg.DatabaseURL, logger),
		Redis:    BuildRedisClient(ctx, cfg, logger, true),
		Registry: prometheus.NewRegistry(),
	}
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = metrics.New(c.Registry)

	c.Sessions = BuildSessionStore(cfg, c.Redis, logger)

	c.ClinicStore = clinic.NewStore(pool)
	c.Clinics = c.ClinicStore
	if c.Redis != nil {
		c.Clinics = clinic.NewCachedDirectory(c.ClinicStore, c.Redis, 0, logger)
	}

	c.Bookings = booking.NewStore(pool)
	c.Reminders = reminders.NewStore(pool)
	c.Outbox = events.NewOutboxStore(pool)
	c.Processed = events.NewProcessedStore(pool)

	checker := availability.NewEngine(c.ClinicStore, c.Bookings, availability.WithSafetyMargin(cfg.BookingSafetyMargin))

	var locker booking.Locker = booking.NewLocalLocker()
	if c.Redis != nil {
		locker = booking.NewRedisLocker(c.Redis, cfg.BookingLockTTL)
	}

	c.Booking = booking.NewService(c.Bookings, checker, logger,
		booking.WithLocker(locker),
		booking.WithReminderScheduler(reminders.NewScheduler(c.Reminders, logger)),
		booking.WithEventRecorder(c.Outbox),
		booking.WithOutcomeRecorder(c.Metrics),
		booking.WithClinicLookup(c.Clinics),
		booking.WithReminderLead(cfg.ReminderLeadTime),
		booking.WithDefaultDuration(cfg.AppointmentDuration),
	)

	classifier, err := BuildClassifier(ctx, cfg, awsCfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Messengers = BuildMessengers(cfg, c.Metrics, logger)

	c.Engine = conversation.NewEngine(c.Sessions, c.Booking, classifier, logger,
		conversation.WithClinicDirectory(c.Clinics),
		conversation.WithConfirmer(c.Messengers.Patient),
		conversation.WithDefaultClinic(cfg.DefaultClinicID),
		conversation.WithCountryCode(cfg.DefaultCountryCode),
	)
	return c, nil
}

// Close releases the storage connections.
func (c *Core) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.SQL != nil {
		_ = c.SQL.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

// NewWorker builds the chat turn consumer. Replies go back over WhatsApp;
// web chat and voice answer synchronously and never reach the queue.
func (c *Core) NewWorker(queue conversation.Queue, jobs JobStore) *conversation.Worker {
	opts := []conversation.WorkerOption{conversation.WithWorkerCount(c.Config.WorkerCount)}
	if c.Processed != nil {
		opts = append(opts, conversation.WithProcessedEventsStore(c.Processed))
	}
	if c.Messengers.WhatsApp != nil {
		opts = append(opts, conversation.WithReplySender(session.ChannelWhatsApp, c.Messengers.WhatsApp))
	}
	return conversation.NewWorker(c.Engine, queue, jobs, c.Logger, opts...)
}

// NewReminderDispatcher builds the due reminder loop.
func (c *Core) NewReminderDispatcher() *reminders.Dispatcher {
	return reminders.NewDispatcher(c.Reminders, c.Messengers.Patient, c.Logger,
		reminders.WithPollInterval(c.Config.ReminderPollInterval),
		reminders.WithBatchSize(c.Config.ReminderBatchSize),
		reminders.WithOutcomeObserver(c.Metrics),
	)
}

// NewOutboxDeliverer builds the loop that emails staff about booking events.
func (c *Core) NewOutboxDeliverer() *events.Deliverer {
	staff := notify.NewStaffNotifier(BuildEmailSender(c.Config, c.AWS, c.Logger), c.Clinics, c.Logger)
	return events.NewDeliverer(c.Outbox, staff, c.Logger).WithInterval(c.Config.OutboxPollInterval)
}

// NewSweeper drops idle sessions. Redis sessions expire by TTL so the
// sweep is a no-op there.
func (c *Core) NewSweeper() *session.Sweeper {
	return session.NewSweeper(c.Sessions, c.Config.SessionSweepInterval, c.Logger)
}

// NewArchive returns the call archive, or nil when no bucket is configured.
func (c *Core) NewArchive() *archive.Store {
	if c.Config.ArchiveBucket == "" {
		return nil
	}
	return archive.NewStore(s3.NewFromConfig(c.AWS), c.Config.ArchiveBucket, c.Logger)
}

// NewRouter wires every HTTP surface onto the booking core.
func (c *Core) NewRouter(queue conversation.Queue, jobs JobStore) http.Handler {
	cfg := c.Config
	publisher := conversation.NewPublisher(queue, jobs, c.Logger)

	// Typed nil pointers must not reach interface parameters.
	var waMessenger interface {
		SendText(ctx context.Context, to, body string) (string, error)
		MarkRead(ctx context.Context, messageID string) error
	}
	if c.Messengers.WhatsApp != nil {
		waMessenger = c.Messengers.WhatsApp
	}
	waWebhook := whatsapp.NewWebhook(whatsapp.WebhookConfig{
		VerifyToken:     cfg.WhatsAppVerifyToken,
		AppSecret:       cfg.WhatsAppAppSecret,
		DefaultClinicID: cfg.DefaultClinicID,
	}, publisher, c.Clinics, waMessenger, c.Metrics, c.Logger)

	voiceCfg := voice.Config{
		PublicBaseURL:  cfg.PublicBaseURL,
		VoiceName:      cfg.VoiceName,
		GatherTimeout:  cfg.VoiceGatherTimeout,
		NameMaxSeconds: cfg.VoiceNameMaxSeconds,
		CountryCode:    cfg.DefaultCountryCode,
	}
	if cfg.TwilioValidateSig {
		voiceCfg.AuthToken = cfg.TwilioAuthToken
	}
	voiceOpts := []voice.Option{voice.WithMetrics(c.Metrics)}
	var calls *calllog.Store
	if c.SQL != nil {
		calls = calllog.NewStore(c.SQL)
		voiceOpts = append(voiceOpts, voice.WithCallLog(calls))
	}
	if archiveStore := c.NewArchive(); archiveStore != nil {
		voiceOpts = append(voiceOpts, voice.WithArchive(archiveStore))
	}
	voiceHandler := voice.NewHandler(voiceCfg, c.Engine, c.Clinics, c.Sessions, c.Logger, voiceOpts...)

	routerCfg := &router.Config{
		Logger:             c.Logger,
		Environment:        cfg.Env,
		Services:           c.services(),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.FrontendURL,
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
		MetricsHandler:     promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}),
		Voice:              voiceHandler,
		WhatsApp:           waWebhook,
		WebChat:            webchat.NewHandler(c.Engine, cfg.DefaultClinicID, c.Logger),
		Appointments:       booking.NewHandler(c.Booking, c.Logger),
		Reminders:          reminders.NewHandler(c.Reminders, c.Logger),
		ClinicDashboard:    clinic.NewDashboardHandler(clinic.NewDashboardRepository(c.Pool), c.Registry, c.Logger),
		Jobs:               conversation.NewJobHandler(jobs, c.Logger),
	}
	if calls != nil {
		routerCfg.CallLogs = calllog.NewHandler(calls, c.Logger)
	}
	return router.New(routerCfg)
}

func (c *Core) services() map[string]bool {
	cfg := c.Config
	return map[string]bool{
		"database": c.Pool != nil,
		"redis":    c.Redis != nil,
		"whatsapp": cfg.WhatsAppEnabled(),
		"twilio":   cfg.TwilioEnabled(),
		"llm":      cfg.Classifier == "llm",
		"archive":  cfg.ArchiveBucket != "",
	}
}
