package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/config"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/fixtures"
	appHTTP "github.com/seguimiento-integral/notificaciones-backend-go/internal/handler/http"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/cooldown"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/cron"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/database"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/email"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/eventbus"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/jwt"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/metrics"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/mq"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/sse"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/repository/postgresql"
	notificationService "github.com/seguimiento-integral/notificaciones-backend-go/internal/service/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/service/trigger"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.App.LogLevel)})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgreSQLDB(cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	typeRepo := postgresql.NewNotificationTypeRepository(db)
	if _, err := fixtures.SeedNotificationTypes(ctx, typeRepo); err != nil {
		return err
	}

	academicRepo := postgresql.NewAcademicRepository(db)
	repos := notificationService.Repositories{
		Notifications: postgresql.NewNotificationRepository(db),
		Types:         typeRepo,
		Preferences:   postgresql.NewPreferenceRepository(db),
		History:       postgresql.NewHistoryRepository(db),
		Users:         postgresql.NewUserRepository(db),
		Academic:      academicRepo,
		Transactor:    postgresql.NewTransactor(db),
	}

	hub := sse.NewHub()
	if _, err := metrics.ObserveOpenStreams(hub.TotalSubscribers); err != nil {
		slog.Warn("Failed to register stream gauge", "error", err)
	}

	opts := []notificationService.Option{
		notificationService.WithTransport(notificationService.NewPushTransport(hub)),
	}

	if cfg.SMTP.Host != "" || cfg.Email.Provider == config.EmailProviderResend {
		emailService, err := email.NewEmailService(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize email service: %w", err)
		}
		opts = append(opts, notificationService.WithTransport(notificationService.NewEmailTransport(emailService, cfg.Location())))
	} else {
		slog.Warn("Email delivery disabled, SMTP_HOST is not set")
	}

	if cfg.Redis.URL != "" {
		rdb, err := cooldown.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts = append(opts, notificationService.WithCooldown(cooldown.New(rdb)))
	}

	n := cfg.Notification
	notifService := notificationService.NewNotificationService(repos, hub, notificationService.Config{
		AbsenceWindowDays:     n.AbsenceWindowDays,
		AbsenceThreshold:      n.AbsenceThreshold,
		PerformanceWindowDays: n.PerformanceWindowDays,
		PerformanceThreshold:  n.PerformanceThreshold,
		ReminderLookahead:     n.ReminderLookahead,
		Location:              cfg.Location(),
	}, opts...)

	bus := eventbus.New()
	trigger.New(notifService).Register(bus)

	jobs := cron.NewNotificationJobs(notifService, academicRepo, n)
	scheduler := cron.NewScheduler()
	jobs.RegisterJobs(scheduler)
	scheduler.Start()
	defer scheduler.Stop()

	JWTService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiration)
	notificationHandler := appHTTP.NewNotificationHandler(notifService, JWTService, jobs, cfg.Location(), n.RetentionDays)
	router := appHTTP.NewRouter(cfg.App, JWTService, notificationHandler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var consumer *mq.Consumer
	if cfg.AMQP.URL != "" {
		consumer, err = mq.NewConsumer(mq.Config{
			URL:        cfg.AMQP.URL,
			Exchange:   cfg.AMQP.Exchange,
			Queue:      cfg.AMQP.Queue,
			RoutingKey: cfg.AMQP.RoutingKey,
			Prefetch:   cfg.AMQP.Prefetch,
		}, trigger.MessageHandler(bus))
		if err != nil {
			return err
		}
		defer consumer.Close()
	} else {
		slog.Warn("AMQP_URL is not set, academic events are not consumed")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server running", "addr", server.Addr, "env", cfg.App.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Shutting down server")
		// open streams would otherwise hold Shutdown until the timeout
		hub.Close()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
