package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fitclub_comms/internal/app"
	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/domain/profile"
	"fitclub_comms/internal/infra/channels"
	"fitclub_comms/internal/infra/config"
	idb "fitclub_comms/internal/infra/database"
	"fitclub_comms/internal/infra/httpapi"
	"fitclub_comms/internal/infra/logger"
	"fitclub_comms/internal/infra/memstore"
	"fitclub_comms/internal/infra/retry"
	"fitclub_comms/internal/infra/scheduler"
	"fitclub_comms/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	defer logger.Close()
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment":    cfg.Environment,
		"storage_driver": cfg.StorageDriver,
		"push_provider":  cfg.PushProvider,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	commRepo, profileRepo, closeStore := openStorage(ctx, cfg, mainLogger)
	defer closeStore()

	// Telegram bot, shared by the push gateway and the staff commands.
	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) { // Global error handler
				entry := logger.Component("telegram").WithError(err)
				if c != nil && c.Sender() != nil && c.Chat() != nil {
					entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
				}
				entry.Error("Telegram handler error")
			},
		})
		if err != nil {
			mainLogger.Fatalf("Could not create Telegram bot: %v", err)
		}
	}

	senders := buildSenders(ctx, cfg, commRepo, bot, mainLogger)

	svc := app.NewService(commRepo, profileRepo, app.NewRecipientResolver(profileRepo), senders, nil, app.ServiceConfig{
		Policy:             communication.SuccessPolicy{MinSuccessRatio: cfg.MinSuccessRatio},
		CancelPollInterval: cfg.CancelPollInterval,
	}, logger.Component("service"))
	watchdog := app.NewWatchdog(commRepo, cfg.StuckThreshold, logrus.NewEntry(logger.Log))
	staff := app.NewStaffService(app.NewProfileCache(profileRepo, cfg.ProfileCacheTTL))

	var sched *scheduler.CommunicationScheduler
	if cfg.EnableCron {
		sched = scheduler.NewCommunicationScheduler(svc, watchdog, logrus.NewEntry(logger.Log), cfg.CronSpecDispatch, cfg.CronSpecStuckCheck)
		if err := sched.Start(); err != nil {
			mainLogger.Fatalf("Could not start scheduler: %v", err)
		}
	}

	if bot != nil {
		botLogger := logger.Component("telegram")
		telegram.RegisterBotCommands(bot, cfg.AdminTelegramID, botLogger)
		if cfg.AdminTelegramID != 0 {
			telegram.RegisterStaffHandlers(bot, telegram.NewStaffCommands(watchdog, svc, commRepo, botLogger), cfg.AdminTelegramID, botLogger)
			mainLogger.Info("Telegram staff command handlers registered")
		}
		go bot.Start()
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Service:        svc,
			Watchdog:       watchdog,
			Staff:          staff,
			JWTSecret:      cfg.JWTSecret,
			CronSecret:     cfg.CronSecret,
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Log:            logrus.NewEntry(logger.Log),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done() // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	if sched != nil {
		sched.Stop()
	}
	if bot != nil {
		bot.Stop()
	}
	// Sends left unfinished here stay in sending; the watchdog fails them later.
	if err := svc.Wait(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("Background sends still running at shutdown")
	}
	mainLogger.Info("Application shut down gracefully.")
}

func openStorage(ctx context.Context, cfg *config.AppConfig, log *logrus.Entry) (communication.Repository, profile.Repository, func()) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		store := memstore.New()
		if cfg.SeedProfilesPath != "" {
			n, err := store.LoadProfiles(cfg.SeedProfilesPath)
			if err != nil {
				log.Fatalf("Could not seed profiles: %v", err)
			}
			log.WithField("profiles", n).Info("In-memory store seeded")
		}
		log.Warn("Using the in-memory store; data is lost on restart")
		return store.Communications(), store.Profiles(), func() {}
	}

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := idb.Migrate(migrateCtx, db); err != nil {
		db.Close()
		log.Fatalf("Could not apply database schema: %v", err)
	}
	log.Info("Database connection established and schema applied")
	return idb.NewPostgresCommunicationRepository(db), idb.NewPostgresProfileRepository(db), func() { db.Close() }
}

func limits(l config.ChannelLimits) channels.Limits {
	return channels.Limits{
		BatchSize:   l.BatchSize,
		RatePerSec:  l.RatePerSec,
		Burst:       l.Burst,
		Concurrency: l.Concurrency,
		CallTimeout: l.CallTimeout,
	}
}

func buildSenders(ctx context.Context, cfg *config.AppConfig, rec channels.AttemptRecorder, bot *telebot.Bot, log *logrus.Entry) []app.Sender {
	policy := retry.DefaultPolicy
	policy.MaxAttempts = cfg.RetryMaxAttempts
	var senders []app.Sender

	if cfg.EmailEnabled() {
		smtpCfg := channels.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}
		senders = append(senders, channels.NewEmailSender(channels.NewSMTPTransport(smtpCfg), smtpCfg, limits(cfg.EmailLimits), policy, rec, logger.Component("email")))
	} else {
		log.Warn("SMTP is not configured; email recipients will be recorded as failed")
	}

	if cfg.SMSEnabled() {
		gw := channels.NewHTTPSMSGateway(channels.SMSGatewayConfig{
			BaseURL: cfg.SMSGatewayURL,
			APIKey:  cfg.SMSAPIKey,
			From:    cfg.SMSFrom,
			Timeout: cfg.SMSLimits.CallTimeout,
		})
		senders = append(senders, channels.NewSMSSender(gw, limits(cfg.SMSLimits), policy, rec, logger.Component("sms")))
	} else {
		log.Warn("SMS gateway is not configured; SMS recipients will be recorded as failed")
	}

	var gateway channels.PushGateway
	switch cfg.PushProvider {
	case config.PushProviderFCM:
		fcm, err := channels.NewFCMGateway(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
		if err != nil {
			log.Fatalf("Could not initialize FCM: %v", err)
		}
		gateway = fcm
	case config.PushProviderTelegram:
		gateway = telegram.NewPushGateway(telegram.NewTelebotAdapter(bot))
	default:
		log.Warn("No push provider configured; push recipients will be recorded as failed")
	}
	if gateway != nil {
		senders = append(senders, channels.NewPushSender(gateway, limits(cfg.PushLimits), policy, rec, logger.Component("push")))
	}
	return senders
}
