package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/sheet-scheduler/internal/config"
	"github.com/example/sheet-scheduler/internal/mail"
	"github.com/example/sheet-scheduler/internal/reminder"
	"github.com/example/sheet-scheduler/internal/store"
)

// newRemindCmd is the one-shot scan for an external cron trigger. All
// idempotency state lives in the sheet, so running it again is always
// safe.
func newRemindCmd() *cobra.Command {
	var nowFlag string

	c := &cobra.Command{
		Use:   "remind",
		Short: "Scan the sheet once and send any due 24h/1h reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if !cfg.SMTP.Ready() {
				return fmt.Errorf("SMTP is not configured (set SMTP_HOST/SMTP_USER/SMTP_PASS/FROM_EMAIL)")
			}

			now := time.Now()
			if nowFlag != "" {
				now, err = time.Parse(time.RFC3339, nowFlag)
				if err != nil {
					return fmt.Errorf("invalid --now (want RFC3339): %w", err)
				}
			}

			ctx := context.Background()
			st := store.New(cfg.SheetPath, cfg.SheetName, cfg.LockWait)
			if err := store.WithRetry(ctx, 5, 500*time.Millisecond, func() error {
				return st.EnsureSchema(ctx)
			}); err != nil {
				return fmt.Errorf("ensure sheet schema: %w", err)
			}

			rem := &reminder.Core{Store: st, Sender: mail.NewSender(cfg.SMTP)}
			runReminders(ctx, rem, now)
			return nil
		},
	}

	c.Flags().StringVar(&nowFlag, "now", "", "override the scan time (RFC3339); defaults to the current time")
	return c
}
