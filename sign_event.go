package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yashrajoria/webhook-service/webhook"
)

func signEventCmd() *cobra.Command {
	var (
		file   string
		secret string
	)

	cmd := &cobra.Command{
		Use:   "sign-event",
		Short: "Print a signature header for a webhook body",
		Long: `Print a Stripe-Signature header for the body in --file, signed now with
--secret or STRIPE_WEBHOOK_SECRET. Send the body unchanged with the header:

  curl -X POST localhost:8088/webhooks/payment \
    -H "Stripe-Signature: $(webhook-service sign-event --file event.json)" \
    --data-binary @event.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				_ = godotenv.Load()
				secret = os.Getenv("STRIPE_WEBHOOK_SECRET")
			}
			if secret == "" {
				return errors.New("no signing secret: pass --secret or set STRIPE_WEBHOOK_SECRET")
			}

			payload, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read event body: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), webhook.Sign(payload, secret, time.Now()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the JSON event body")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to STRIPE_WEBHOOK_SECRET)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
