package main

import (
	"github.com/spf13/cobra"
)

func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint signed tokens from JWT_* / WEBHOOK_JWT_* settings",
	}
	cmd.AddCommand(buildTokenAccessCmd(), buildTokenWebhookCmd())
	return cmd
}

func buildTokenAccessCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:     "access",
		Short:   "Mint an operator access token for the /v1 API",
		Example: `  JWT_SECRET=... callbotctl token access --user alice --role operator`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenAccess(cmd.OutOrStdout(), userID, role)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Operator user id (required)")
	cmd.Flags().StringVar(&role, "role", "viewer", "Role: admin, operator, viewer, auditor")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildTokenWebhookCmd() *cobra.Command {
	var appID string
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Mint a bearer token accepted by the notification webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenWebhook(cmd.OutOrStdout(), appID)
		},
	}
	cmd.Flags().StringVar(&appID, "app", "callbotctl", "Application id carried in the token")
	return cmd
}

func buildReplayCmd() *cobra.Command {
	var url, appID string
	cmd := &cobra.Command{
		Use:   "replay <payload.json>...",
		Short: "POST captured notification payloads to a webhook, in order",
		Long:  `Replay sends each file as one webhook delivery, in argument order, and
prints the processed/skipped counts the service reports. When
WEBHOOK_JWT_SECRET is set each request carries a freshly minted bearer token.`,
		Example: `  callbotctl replay --url http://localhost:8080/api/calls/notifications establishing.json established.json`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), cmd.OutOrStdout(), url, appID, args)
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:8080/api/calls/notifications", "Webhook URL")
	cmd.Flags().StringVar(&appID, "app", "callbotctl", "Application id carried in the webhook token")
	return cmd
}
