package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zenlist/notifier/internal/config"
	"github.com/zenlist/notifier/internal/email"
	"github.com/zenlist/notifier/internal/notification"
	"github.com/zenlist/notifier/internal/sweep"
	"github.com/zenlist/notifier/internal/webpush"
	"github.com/zenlist/notifier/pkg/database"
	"github.com/zenlist/notifier/pkg/observability"
)

var sweepFlags struct {
	serviceConfig string
	skipCleanup   bool
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the scheduled jobs by hand",
}

var sweepRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one due/overdue sweep and the cleanup against the service database",
	Long: `Loads the service configuration (ZENLIST_* environment or --service-config) and runs the
due/overdue sweep once, followed by the retention cleanup. Realtime delivery is skipped since
this process holds no connections; push and email go out when configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.Load(sweepFlags.serviceConfig)
		if err != nil {
			return err
		}
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required")
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		logger := observability.NewLoggerWithLevel("zenlist-cli", cfg.Service.LogLevel)

		db, err := database.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		store := notification.NewRepository(db)
		subs := notification.NewSubscriptionRepository(db)

		var channels notification.Channels
		if cfg.Push.PublicKey != "" {
			sender, err := webpush.New(webpush.Config{
				PublicKey:  cfg.Push.PublicKey,
				PrivateKey: cfg.Push.PrivateKey,
				Subject:    cfg.Push.Subject,
				TTL:        cfg.Push.TTL,
			}, logger.Logger)
			if err != nil {
				return err
			}
			channels.Push = sender
		}
		mail, _ := email.New(ctx, email.Config{
			Provider:     cfg.Email.Provider,
			From:         cfg.Email.From,
			RedirectTo:   cfg.Email.RedirectTo,
			ResendAPIKey: cfg.Email.ResendAPIKey,
			SMTP:         email.SMTPConfig(cfg.Email.SMTP),
		}, logger.Logger)
		if mail.Enabled() {
			channels.Email = mail
		}

		assets := notification.Assets{AppURL: cfg.Assets.AppURL, IconURL: cfg.Assets.IconURL, BadgeURL: cfg.Assets.BadgeURL}
		dispatcher := notification.NewDispatcher(store, subs, channels, logger.Logger,
			notification.WithRouter(notification.NewRouter(nil, assets, loc)),
			notification.WithPolicy(notification.Policy{
				RepeatCompletions: cfg.Dispatch.RepeatCompletions,
				ChannelTimeout:    cfg.Dispatch.ChannelTimeout,
			}),
		)
		sched := sweep.New(sweep.NewPostgresTodoSource(db), store, dispatcher, sweep.Config{
			Interval:            cfg.Sweep.Interval,
			CleanupHour:         cfg.Sweep.CleanupHour,
			Retention:           cfg.Sweep.Retention,
			SubscriptionMaxIdle: cfg.Sweep.SubscriptionMaxIdle,
			Location:            loc,
		}, logger.Logger, sweep.WithSubscriptions(subs))

		now := time.Now()
		report, err := sched.RunDueSweep(ctx, now)
		if err != nil {
			return err
		}
		fmt.Printf("Due soon: %d  Overdue: %d  Skipped: %d  Failed: %d\n",
			report.DueSoon, report.Overdue, report.Skipped, report.Failed)

		if sweepFlags.skipCleanup {
			return nil
		}
		cleanup, err := sched.RunCleanup(ctx, now)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d read notifications and %d idle subscriptions.\n",
			cleanup.Notifications, cleanup.Subscriptions)
		return nil
	},
}

func init() {
	sweepRunCmd.Flags().StringVar(&sweepFlags.serviceConfig, "service-config", "", "service configuration file")
	sweepRunCmd.Flags().BoolVar(&sweepFlags.skipCleanup, "skip-cleanup", false, "only run the due/overdue sweep")
	sweepCmd.AddCommand(sweepRunCmd)
	rootCmd.AddCommand(sweepCmd)
}
