package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func queueCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and control dispatch",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "metrics",
			Short: "Show counters, latency percentiles and throughput",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := g.client()
				if err != nil {
					return err
				}
				m, err := c.Metrics(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), m)
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show per-state job counts and worker usage",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := g.client()
				if err != nil {
					return err
				}
				s, err := c.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			},
		},
		&cobra.Command{
			Use:   "schedules",
			Short: "List recurring submissions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := g.client()
				if err != nil {
					return err
				}
				entries, err := c.Schedules(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			},
		},
		&cobra.Command{
			Use:   "pause",
			Short: "Stop dispatching queued jobs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := g.client()
				if err != nil {
					return err
				}
				if err := c.Pause(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "dispatch paused")
				return nil
			},
		},
		&cobra.Command{
			Use:   "resume",
			Short: "Resume dispatching",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := g.client()
				if err != nil {
					return err
				}
				if err := c.Resume(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "dispatch resumed")
				return nil
			},
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check the daemon and its store",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := g.client()
				if err != nil {
					return err
				}
				if err := c.Health(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			},
		},
	)
	return cmd
}
