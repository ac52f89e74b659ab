package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/example/sheet-scheduler/internal/auth"
	"github.com/example/sheet-scheduler/internal/booking"
	"github.com/example/sheet-scheduler/internal/config"
	"github.com/example/sheet-scheduler/internal/db"
	"github.com/example/sheet-scheduler/internal/mail"
	"github.com/example/sheet-scheduler/internal/migrate"
	"github.com/example/sheet-scheduler/internal/reminder"
	"github.com/example/sheet-scheduler/internal/store"
	"github.com/example/sheet-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the web UI + in-process reminder schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if err := cfg.RequireWebKeys(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
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

			st := store.New(cfg.SheetPath, cfg.SheetName, cfg.LockWait)
			if err := store.WithRetry(ctx, 5, 500*time.Millisecond, func() error {
				return st.EnsureSchema(ctx)
			}); err != nil {
				return fmt.Errorf("ensure sheet schema: %w", err)
			}

			authStore := auth.NewStore(d, cfg.CookieHashKey, cfg.CookieBlockKey)
			core := booking.NewCore(st)

			// reminder schedule
			if cfg.SMTP.Ready() {
				rem := &reminder.Core{Store: st, Sender: mail.NewSender(cfg.SMTP)}
				c := cron.New()
				if _, err := c.AddFunc(cfg.RemindSpec, func() {
					runCtx, runCancel := context.WithTimeout(ctx, 2*time.Minute)
					defer runCancel()
					runReminders(runCtx, rem, time.Now())
				}); err != nil {
					return fmt.Errorf("invalid REMIND_SPEC %q: %w", cfg.RemindSpec, err)
				}
				c.Start()
				defer c.Stop()
			} else {
				log.Printf("SMTP is not configured; reminders are disabled (set SMTP_HOST/SMTP_USER/SMTP_PASS/FROM_EMAIL)")
			}

			ws := &web.Server{Auth: authStore, Bookings: core, BaseURL: cfg.BaseURL}
			return web.Start(ctx, cfg.ListenAddr, ws.Routes())
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

// runReminders executes one scan and logs every outcome.
func runReminders(ctx context.Context, rem *reminder.Core, now time.Time) {
	var report reminder.Report
	err := store.WithRetry(ctx, 3, 500*time.Millisecond, func() error {
		var rerr error
		report, rerr = rem.RunOnce(ctx, now)
		return rerr
	})
	if err != nil {
		log.Printf("reminder run failed: %v", err)
		return
	}
	for _, o := range report.Outcomes {
		if o.Err != nil {
			log.Printf("reminder %s booking=%s to=%s failed: %v (will retry next run)", o.Kind, o.BookingID, o.Email, o.Err)
			continue
		}
		log.Printf("reminder %s booking=%s to=%s sent", o.Kind, o.BookingID, o.Email)
	}
	if len(report.Outcomes) > 0 {
		log.Printf("reminder run done: sent=%d failed=%d", report.Sent(), report.Failed())
	}
}
