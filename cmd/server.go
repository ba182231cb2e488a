package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/court-scheduler/internal/auth"
	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/credential"
	"github.com/example/court-scheduler/internal/crypto"
	"github.com/example/court-scheduler/internal/db"
	"github.com/example/court-scheduler/internal/engine"
	"github.com/example/court-scheduler/internal/logger"
	"github.com/example/court-scheduler/internal/migrate"
	"github.com/example/court-scheduler/internal/notify"
	"github.com/example/court-scheduler/internal/postgres"
	"github.com/example/court-scheduler/internal/scheduler"
	"github.com/example/court-scheduler/internal/tasks"
	"github.com/example/court-scheduler/internal/venue"
	"github.com/example/court-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the scheduler and the task-management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			// credential store over the browser-captured cookie file
			var aead *crypto.AEAD
			if key, err := cfg.Credentials.AEADKey(); err != nil {
				return err
			} else if key != nil {
				if aead, err = crypto.New(key); err != nil {
					return err
				}
			}
			credSource := &credential.FileSource{Path: cfg.Credentials.File, AEAD: aead, Log: log}
			creds := credential.NewStore(credSource, log)
			if c, err := credSource.Login(ctx); err != nil {
				log.Warnw("no usable credential at startup, tasks will try to pick one up at fire time", "err", err)
			} else {
				creds.Set(c)
			}

			var notifier notify.Notifier
			if cfg.Email.Enabled {
				notifier = &notify.Mailer{
					Host:     cfg.Email.Host,
					Port:     cfg.Email.Port,
					From:     cfg.Email.From,
					Password: cfg.Email.Password,
					To:       cfg.Email.To,
					Log:      log,
				}
			} else {
				notifier = &notify.LogNotifier{Log: log}
			}

			registry := tasks.NewRegistry(postgres.NewTaskStore(d), log)
			client := venue.New(cfg.Booking.BaseURL, cfg.Booking.Timeout, log)
			eng := engine.New(registry, creds, client, notifier, log, engine.Config{
				MaxAttempts:      cfg.Engine.MaxAttempts,
				MaxReauths:       cfg.Engine.MaxReauths,
				Grace:            cfg.Engine.Grace,
				BackoffBase:      cfg.Engine.BackoffBase,
				BackoffCap:       cfg.Engine.BackoffCap,
				AttemptTimeout:   cfg.Engine.AttemptTimeout,
				RetryUnavailable: cfg.Engine.RetryUnavailable,
			})
			sched := scheduler.New(registry, eng.Run, log)

			// restart recovery: reschedule stored open tasks still ahead of
			// their fire time; tasks whose window passed while the process
			// was down are failed and the operator is told
			recovered, missed, err := registry.Restore(ctx)
			if err != nil {
				return fmt.Errorf("restore tasks: %w", err)
			}
			for _, t := range recovered {
				sched.Add(t)
			}
			for _, t := range missed {
				if err := notifier.Notify(ctx, t); err != nil {
					log.Warnw("notify failed", "task", t.ID, "err", err)
				}
			}
			log.Infow("recovered tasks", "rescheduled", len(recovered), "missed", len(missed))

			go func() {
				if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Errorw("scheduler stopped", "err", err)
				}
			}()

			hashKey, err := cfg.Auth.HashKey()
			if err != nil {
				return err
			}
			blockKey, err := cfg.Auth.BlockKey()
			if err != nil {
				return err
			}
			ws := &web.Server{
				Auth:               auth.NewStore(hashKey, blockKey, cfg.Auth.PasswordHash),
				Registry:           registry,
				Sched:              sched,
				Log:                log,
				DefaultVenueNo:     cfg.Booking.VenueNo,
				DefaultFieldTypeNo: cfg.Booking.FieldTypeNo,
			}
			return web.Start(ctx, cfg.Server.ListenAddr, ws.Routes(), log)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}
