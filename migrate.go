package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yashrajoria/webhook-service/config"
	"github.com/yashrajoria/webhook-service/database"
	"github.com/yashrajoria/webhook-service/logger"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the configured order store",
		Long: `Prepare the order store selected by ORDER_STORE.

  postgres  creates the orders and order_items tables (gorm AutoMigrate)
  mongo     creates the unique payment_reference index
  bolt      creates the database file and its orders bucket
  dynamodb  nothing; the table is provisioned outside the service`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runMigrate(ctx)
		},
	}
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.AppEnv, nil)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := database.OpenOrderStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s order store: %w", cfg.OrderStore, err)
	}
	log.Info("Order store ready", zap.String("order_store", cfg.OrderStore))
	return nil
}
