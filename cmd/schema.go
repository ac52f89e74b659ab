package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/sheet-scheduler/internal/config"
	"github.com/example/sheet-scheduler/internal/store"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the sheet if missing and add any absent tracking columns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx := context.Background()
			st := store.New(cfg.SheetPath, cfg.SheetName, cfg.LockWait)
			if err := store.WithRetry(ctx, 5, 500*time.Millisecond, func() error {
				return st.EnsureSchema(ctx)
			}); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "sheet %s (%s) schema ok\n", cfg.SheetPath, cfg.SheetName)
			return nil
		},
	}
}
