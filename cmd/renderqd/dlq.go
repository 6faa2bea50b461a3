package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func dlqCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Manage the dead letter queue",
	}

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter entries, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			entries, err := c.DeadLetters(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "page size (0 uses the server default)")
	list.Flags().IntVar(&offset, "offset", 0, "page offset")

	show := &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show one dead-letter entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			e, err := c.DeadLetter(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		},
	}

	replay := &cobra.Command{
		Use:   "replay <entry-id>",
		Short: "Submit a new job from a dead-letter entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			j, err := c.Replay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		},
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Remove dead-letter entries older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			n, err := c.PurgeDLQ(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d entries\n", n)
			return nil
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "age cut-off")

	cmd.AddCommand(list, show, replay, purge)
	return cmd
}
