package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/sheet-scheduler/internal/booking"
	"github.com/example/sheet-scheduler/internal/config"
	"github.com/example/sheet-scheduler/internal/store"
)

const cliTimeLayout = "2006-01-02 15:04"

func newBookingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booking",
		Short: "Manage bookings in the signup sheet (non-UI)",
	}
	cmd.AddCommand(newBookingCreateCmd())
	cmd.AddCommand(newBookingListCmd())
	cmd.AddCommand(newBookingCancelCmd())
	return cmd
}

func openCore(ctx context.Context, cfg config.Config) (*booking.Core, error) {
	st := store.New(cfg.SheetPath, cfg.SheetName, cfg.LockWait)
	if err := store.WithRetry(ctx, 5, 500*time.Millisecond, func() error {
		return st.EnsureSchema(ctx)
	}); err != nil {
		return nil, fmt.Errorf("ensure sheet schema: %w", err)
	}
	return booking.NewCore(st), nil
}

func newBookingCreateCmd() *cobra.Command {
	var (
		resource string
		start    string
		end      string
		name     string
		email    string
		timezone string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Book a slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			loc, err := time.LoadLocation(timezone)
			if err != nil {
				return fmt.Errorf("invalid --timezone: %w", err)
			}
			startAt, err := time.ParseInLocation(cliTimeLayout, start, loc)
			if err != nil {
				return fmt.Errorf("invalid --start (want %q)", cliTimeLayout)
			}
			endAt, err := time.ParseInLocation(cliTimeLayout, end, loc)
			if err != nil {
				return fmt.Errorf("invalid --end (want %q)", cliTimeLayout)
			}

			ctx := context.Background()
			core, err := openCore(ctx, cfg)
			if err != nil {
				return err
			}

			var created booking.Booking
			err = store.WithRetry(ctx, 3, 500*time.Millisecond, func() error {
				var perr error
				created, perr = core.Propose(ctx, booking.Request{
					Resource:       resource,
					Start:          startAt,
					End:            endAt,
					RequesterName:  name,
					RequesterEmail: email,
				})
				return perr
			})
			if err != nil {
				var cerr *booking.ConflictError
				if errors.As(err, &cerr) {
					return fmt.Errorf("slot taken: %s is booked %s to %s (booking %s)",
						cerr.Existing.Resource,
						cerr.Existing.Start.In(loc).Format(cliTimeLayout),
						cerr.Existing.End.In(loc).Format(cliTimeLayout),
						cerr.Existing.ID)
				}
				return err
			}
			fmt.Fprintf(os.Stdout, "created booking id=%s resource=%s start=%s end=%s\n",
				created.ID, created.Resource,
				created.Start.Format(time.RFC3339), created.End.Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&resource, "resource", "", "resource to reserve (room, service)")
	c.Flags().StringVar(&start, "start", "", "start time, \"YYYY-MM-DD HH:MM\" local to --timezone")
	c.Flags().StringVar(&end, "end", "", "end time, \"YYYY-MM-DD HH:MM\" local to --timezone")
	c.Flags().StringVar(&name, "name", "", "requester name")
	c.Flags().StringVar(&email, "email", "", "requester email (reminders go here)")
	c.Flags().StringVar(&timezone, "timezone", "America/New_York", "timezone for --start/--end")

	_ = c.MarkFlagRequired("resource")
	_ = c.MarkFlagRequired("start")
	_ = c.MarkFlagRequired("end")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("email")
	return c
}

func newBookingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all bookings in the sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx := context.Background()
			core, err := openCore(ctx, cfg)
			if err != nil {
				return err
			}

			var bs []booking.Booking
			if err := store.WithRetry(ctx, 3, 500*time.Millisecond, func() error {
				var lerr error
				bs, lerr = core.List(ctx)
				return lerr
			}); err != nil {
				return err
			}

			for _, b := range bs {
				fmt.Fprintf(os.Stdout, "id=%s resource=%s start=%s end=%s requester=%q status=%s sent24h=%t sent1h=%t\n",
					b.ID, b.Resource,
					b.Start.Format(time.RFC3339), b.End.Format(time.RFC3339),
					b.RequesterName, b.Status, b.Reminder24hSent, b.Reminder1hSent)
			}
			return nil
		},
	}
}

func newBookingCancelCmd() *cobra.Command {
	var id string

	c := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a booking (status change; the row stays for audit)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx := context.Background()
			core, err := openCore(ctx, cfg)
			if err != nil {
				return err
			}

			err = store.WithRetry(ctx, 3, 500*time.Millisecond, func() error {
				_, cerr := core.Cancel(ctx, id)
				return cerr
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "cancelled booking id=%s\n", id)
			return nil
		},
	}

	c.Flags().StringVar(&id, "id", "", "booking id")
	_ = c.MarkFlagRequired("id")
	return c
}
