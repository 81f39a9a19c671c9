// Command notifctl runs notification maintenance tasks once, outside the API
// process, and prints their reports as JSON.
//
//	notifctl run --task all --cleanup-days 30
//	notifctl seed-types
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/config"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/fixtures"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/cron"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/database"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/email"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/sse"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/repository/postgresql"
	notificationService "github.com/seguimiento-integral/notificaciones-backend-go/internal/service/notification"
	"github.com/spf13/pflag"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: notifctl <command> [flags]

commands:
  run          run a maintenance task (reminders, performance, cleanup, retry, all)
  seed-types   create or refresh the notification type catalog
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runTask(ctx, os.Args[2:])
	case "seed-types":
		err = seedTypes(ctx)
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		slog.Error("notifctl failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*config.Config, *database.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	db, err := database.NewPostgreSQLDB(cfg.DatabaseURL())
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	return cfg, db, nil
}

func seedTypes(ctx context.Context) error {
	_, db, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := fixtures.SeedNotificationTypes(ctx, postgresql.NewNotificationTypeRepository(db))
	if err != nil {
		return err
	}

	return printJSON(result)
}

func runTask(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	task := fs.String("task", cron.TaskAll, "task to run: reminders, performance, cleanup, retry or all")
	cleanupDays := fs.Int("cleanup-days", 0, "delete notifications older than this many days (default NOTIF_RETENTION_DAYS)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, db, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if *cleanupDays <= 0 {
		*cleanupDays = cfg.Notification.RetentionDays
	}

	academicRepo := postgresql.NewAcademicRepository(db)
	repos := notificationService.Repositories{
		Notifications: postgresql.NewNotificationRepository(db),
		Types:         postgresql.NewNotificationTypeRepository(db),
		Preferences:   postgresql.NewPreferenceRepository(db),
		History:       postgresql.NewHistoryRepository(db),
		Users:         postgresql.NewUserRepository(db),
		Academic:      academicRepo,
		Transactor:    postgresql.NewTransactor(db),
	}

	// Only email reaches users from here; push has no open streams in this process.
	var opts []notificationService.Option
	if cfg.SMTP.Host != "" || cfg.Email.Provider == config.EmailProviderResend {
		emailService, err := email.NewEmailService(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize email service: %w", err)
		}
		opts = append(opts, notificationService.WithTransport(notificationService.NewEmailTransport(emailService, cfg.Location())))
	}

	n := cfg.Notification
	svc := notificationService.NewNotificationService(repos, sse.NewHub(), notificationService.Config{
		AbsenceWindowDays:     n.AbsenceWindowDays,
		AbsenceThreshold:      n.AbsenceThreshold,
		PerformanceWindowDays: n.PerformanceWindowDays,
		PerformanceThreshold:  n.PerformanceThreshold,
		ReminderLookahead:     n.ReminderLookahead,
		Location:              cfg.Location(),
	}, opts...)

	reports, err := cron.NewNotificationJobs(svc, academicRepo, n).RunTask(ctx, *task, *cleanupDays)
	if len(reports) > 0 {
		if printErr := printJSON(reports); printErr != nil {
			return printErr
		}
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
