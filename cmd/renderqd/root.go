package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/renderq/client"
)

const (
	defaultServer = "http://localhost:8080"
	envServer     = "RENDERQ_SERVER"
)

type globalFlags struct {
	configPath string
	server     string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "renderqd",
		Short:         "Render job orchestration daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&g.server, "server", envOr(envServer, defaultServer), "daemon base URL for client commands")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", client.DefaultTimeout, "request timeout for client commands")

	root.AddCommand(
		serveCmd(g),
		migrateCmd(g),
		submitCmd(g),
		statusCmd(g),
		listCmd(g),
		cancelCmd(g),
		watchCmd(g),
		queueCmd(g),
		dlqCmd(g),
		webhookCmd(g),
	)
	return root
}

func (g *globalFlags) client() (*client.Client, error) {
	return client.New(g.server, client.WithRequestTimeout(g.timeout))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
