package main

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/xraph/renderq/api"
)

func webhookCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "webhook",
		Aliases: []string{"webhooks"},
		Short:   "Manage webhook subscriptions",
	}

	var (
		secret  string
		events  []string
		headers []string
	)
	add := &cobra.Command{
		Use:   "add <url>",
		Short: "Register a webhook; the signing secret is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.RegisterWebhookRequest{
				URL:    args[0],
				Secret: secret,
				Events: events,
			}
			if len(headers) > 0 {
				req.Headers = make(map[string]string, len(headers))
				for _, h := range headers {
					k, v, ok := strings.Cut(h, "=")
					if !ok || k == "" {
						return errors.Newf("header %q is not key=value", h)
					}
					req.Headers[k] = v
				}
			}

			c, err := g.client()
			if err != nil {
				return err
			}
			sub, err := c.RegisterWebhook(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sub)
		},
	}
	add.Flags().StringVar(&secret, "secret", "", "signing secret (generated when empty)")
	add.Flags().StringSliceVar(&events, "event", nil, "event type to deliver, repeatable (all when unset)")
	add.Flags().StringSliceVar(&headers, "header", nil, "extra request header as key=value, repeatable")

	list := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			subs, err := c.Webhooks(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), subs)
		},
	}

	show := &cobra.Command{
		Use:   "show <subscription-id>",
		Short: "Show a subscription with its delivery stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			sub, err := c.Webhook(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sub)
		},
	}

	attempts := &cobra.Command{
		Use:   "attempts <subscription-id>",
		Short: "Show recent delivery attempts, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			out, err := c.WebhookAttempts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	remove := &cobra.Command{
		Use:     "remove <subscription-id>",
		Aliases: []string{"rm"},
		Short:   "Unregister a subscription",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if err := c.UnregisterWebhook(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook %s removed\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, show, attempts, remove)
	return cmd
}
