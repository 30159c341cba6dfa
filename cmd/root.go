package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedupe/internal/config"
	"github.com/sells-group/crm-dedupe/internal/db"
	"github.com/sells-group/crm-dedupe/internal/dedupe"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "crm-dedupe",
	Short: "Duplicate detection and record merging for CRM contacts",
	Long:  "Scores incoming contact records against existing leads and customers, auto-merges confident duplicates, and queues uncertain ones for review.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// connect opens the configured database pool.
func connect(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is not configured")
	}
	return db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
}

// newService connects and builds the dedupe service.
func newService(ctx context.Context) (*dedupe.Service, *pgxpool.Pool, error) {
	pool, err := connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	return dedupe.NewService(pool, cfg), pool, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
