package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/xraph/renderq/client"
	"github.com/xraph/renderq/job"
)

func submitCmd(g *globalFlags) *cobra.Command {
	var (
		kind        string
		priority    string
		maxAttempts int
		timeout     time.Duration
		delay       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <payload-json | ->",
		Short: "Submit a render job",
		Long:  "Submit a render job. The payload is a JSON document, or \"-\" to read it from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := []byte(args[0])
			if args[0] == "-" {
				var err error
				if payload, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return errors.Wrap(err, "read payload")
				}
			}
			if !json.Valid(payload) {
				return errors.New("payload is not valid JSON")
			}

			p, err := job.ParsePriority(priority)
			if err != nil {
				return err
			}
			opts := []client.SubmitOption{client.WithPriority(p)}
			if kind != "" {
				opts = append(opts, client.WithKind(kind))
			}
			if maxAttempts > 0 {
				opts = append(opts, client.WithMaxAttempts(maxAttempts))
			}
			if timeout > 0 {
				opts = append(opts, client.WithJobTimeout(timeout))
			}
			if delay > 0 {
				opts = append(opts, client.WithRunAt(time.Now().Add(delay)))
			}

			c, err := g.client()
			if err != nil {
				return err
			}
			j, err := c.Submit(cmd.Context(), json.RawMessage(payload), opts...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&kind, "kind", "k", "", "job kind")
	f.StringVarP(&priority, "priority", "p", "normal", "low, normal or high")
	f.IntVar(&maxAttempts, "max-attempts", 0, "attempt budget (0 uses the daemon default)")
	f.DurationVar(&timeout, "job-timeout", 0, "per-attempt timeout (0 uses the daemon default)")
	f.DurationVar(&delay, "delay", 0, "hold the job this long before it becomes eligible")
	return cmd
}

func statusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			j, err := c.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		},
	}
}

func listCmd(g *globalFlags) *cobra.Command {
	var (
		state         string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in a state, in dispatch order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			jobs, err := c.Jobs(cmd.Context(), job.State(state), limit, offset)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&state, "state", "s", string(job.StateQueued), "job state")
	f.IntVar(&limit, "limit", 0, "page size (0 uses the server default)")
	f.IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func cancelCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or active job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if err := c.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s cancelled\n", args[0])
			return nil
		},
	}
}

// watchCmd prints one JSON line per event until the job is terminal.
func watchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream a job's events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			events, err := c.Events(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for evt := range events {
				fmt.Fprintf(w, "%s %s\n", evt.Name, evt.Data)
			}
			return nil
		},
	}
}
