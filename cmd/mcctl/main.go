// Command mcctl drives a Mission Control server from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/mission-control/sdk/go/missioncontrol"
)

var version = "dev"

// options are the connection flags shared by every command.
type options struct {
	url     string
	apiKey  string
	name    string
	timeout time.Duration
	jsonOut bool
}

func (o *options) client() (*missioncontrol.Client, error) {
	return missioncontrol.NewClient(missioncontrol.Config{
		BaseURL: o.url,
		Name:    o.name,
		APIKey:  o.apiKey,
		Timeout: o.timeout,
	})
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "mcctl",
		Short: "Operate a Mission Control server",
		Long: `mcctl talks to a Mission Control server over its HTTP API.

Connection settings come from flags or the environment:
  MC_URL         server base URL
  MC_API_KEY     API key exchanged for a token
  MC_AGENT_NAME  caller name (agents only)`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.url, "url", envOr("MC_URL", "http://localhost:8080"), "server base URL")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("MC_API_KEY"), "API key")
	root.PersistentFlags().StringVar(&opts.name, "name", os.Getenv("MC_AGENT_NAME"), "caller name")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print raw JSON")

	root.AddCommand(
		statusCmd(opts),
		stopCmd(opts),
		resumeCmd(opts),
		toggleCmd(opts),
		auditCmd(opts),
		pendingCmd(opts),
		decideCmd(opts, "approve", missioncontrol.DecisionApproved),
		decideCmd(opts, "reject", missioncontrol.DecisionRejected),
		agentsCmd(opts),
		setAgentCmd(opts),
		eventsCmd(opts),
		watchCmd(),
		genkeyCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
