package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/mission-control/internal/auth"
	"github.com/ashita-ai/mission-control/internal/flag"
	"github.com/ashita-ai/mission-control/sdk/go/missioncontrol"
)

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the run state, agents and last job runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			page, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, page)
			}

			rs := page.RunState
			fmt.Fprintf(out, "Run state: %s\n", strings.ToUpper(rs.Status))
			fmt.Fprintf(out, "  Since:   %s by %s\n", rs.TriggeredAt.Format(time.RFC3339), rs.TriggeredBy)
			if rs.Reason != "" {
				fmt.Fprintf(out, "  Reason:  %s\n", rs.Reason)
			}

			fmt.Fprintf(out, "\nAgents: %d/%d online\n", page.Online, len(page.Agents))
			printAgents(out, page.Agents)

			fmt.Fprintf(out, "\nJobs: %d ok, %d failed\n", page.JobsOK, page.JobsFailed)
			if len(page.Jobs) > 0 {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "  NAME\tSCHEDULE\tLAST RUN\tSTATUS")
				for _, j := range page.Jobs {
					last := "never"
					if j.LastRunAt != nil {
						last = j.LastRunAt.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", j.Name, j.Schedule, last, orDash(j.LastStatus))
				}
				_ = tw.Flush()
			}
			return nil
		},
	}
}

func stopCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [reason...]",
		Short: "Engage the kill switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			tr, err := c.Stop(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printTransition(cmd.OutOrStdout(), opts, tr)
		},
	}
}

func resumeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [reason...]",
		Short: "Release the kill switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			tr, err := c.Resume(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printTransition(cmd.OutOrStdout(), opts, tr)
		},
	}
}

func toggleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle [reason...]",
		Short: "Flip the kill switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			tr, err := c.Toggle(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printTransition(cmd.OutOrStdout(), opts, tr)
		},
	}
}

func printTransition(out io.Writer, opts *options, tr *missioncontrol.Transition) error {
	if opts.jsonOut {
		return printJSON(out, tr)
	}
	rs := tr.RunState
	fmt.Fprintf(out, "%s -> %s (by %s)\n", tr.PreviousStatus, rs.Status, rs.TriggeredBy)
	if rs.Reason != "" {
		fmt.Fprintf(out, "Reason: %s\n", rs.Reason)
	}
	if tr.AuditError != "" {
		fmt.Fprintf(out, "Warning: run state changed but the audit entry failed: %s\n", tr.AuditError)
	}
	return nil
}

func auditCmd(opts *options) *cobra.Command {
	var q missioncontrol.AuditQuery

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			page, err := c.QueryAudit(cmd.Context(), &q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, page)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXECUTED\tAGENT\tACTION\tSTATUS")
			for _, e := range page.Entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ExecutedAt.Format(time.RFC3339), e.Agent, e.Action, e.Status)
			}
			_ = tw.Flush()
			fmt.Fprintf(out, "\npage %d: %d entries (%d ok, %d failed)", page.Page, page.Total, page.SuccessCount, page.FailureCount)
			if page.HasMore {
				fmt.Fprint(out, ", more available")
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&q.Agent, "agent", "", "only entries by this agent")
	cmd.Flags().StringVarP(&q.Text, "search", "s", "", "substring match on agent, action or status")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.PageSize, "page-size", 50, "entries per page")
	return cmd
}

func pendingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List emails awaiting approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			emails, err := c.PendingApprovals(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, emails)
			}
			if len(emails) == 0 {
				fmt.Fprintln(out, "No emails awaiting approval.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFROM\tSUBJECT\tCREATED")
			for _, e := range emails {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.FromEmail, e.Subject, e.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func decideCmd(opts *options, use, decision string) *cobra.Command {
	var approvalType string

	cmd := &cobra.Command{
		Use:   use + " <email-id>",
		Short: fmt.Sprintf("Mark a held email %s", decision),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid email id %q: %w", args[0], err)
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			res, err := c.Decide(cmd.Context(), id, decision, approvalType)
			if pf, ok := missioncontrol.AsPartialFailure(err); ok {
				fmt.Fprintf(out, "Email %s is now %s, but the %s step failed.\n", pf.Email.ID, pf.Email.Status, pf.FailedStep)
				return err
			}
			if missioncontrol.IsConflict(err) {
				return fmt.Errorf("email %s is not awaiting approval", id)
			}
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "Email %s %s by %s\n", res.Email.ID, res.Email.Status, res.Approval.ApprovedBy)
			return nil
		},
	}

	cmd.Flags().StringVar(&approvalType, "type", "", "approval type (routine_response or escalation)")
	return cmd
}

func agentsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			list, err := c.Agents(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, list)
			}
			fmt.Fprintf(out, "%d/%d online\n", list.Online, list.Total)
			printAgents(out, list.Agents)
			return nil
		},
	}
}

func printAgents(out io.Writer, agents []missioncontrol.Agent) {
	if len(agents) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tROLE\tSTATUS\tTASK")
	for _, a := range agents {
		task := "-"
		if a.CurrentTask != nil {
			task = *a.CurrentTask
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", a.Name, orDash(a.Role), a.Status, task)
	}
	_ = tw.Flush()
}

func setAgentCmd(opts *options) *cobra.Command {
	var (
		task string
		role string
	)

	cmd := &cobra.Command{
		Use:   "set-agent <name> <status>",
		Short: "Report an agent's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			req := missioncontrol.AgentStatusRequest{Status: args[1], Role: role}
			if cmd.Flags().Changed("task") {
				req.CurrentTask = &task
			}
			change, err := c.SetAgentStatus(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, change)
			}
			if !change.Changed {
				fmt.Fprintf(out, "%s already %s\n", change.Agent.Name, change.Agent.Status)
				return nil
			}
			fmt.Fprintf(out, "%s: %s -> %s\n", change.Agent.Name, orDash(change.PreviousStatus), change.Agent.Status)
			if change.AuditError != "" {
				fmt.Fprintf(out, "Warning: status changed but the audit entry failed: %s\n", change.AuditError)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&task, "task", "", "current task description")
	cmd.Flags().StringVar(&role, "role", "", "agent role (kept when empty)")
	return cmd
}

func eventsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream change notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			events, err := c.Subscribe(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for ev := range events {
				fmt.Fprintf(out, "%s %s\n", orDash(ev.Name), ev.Data)
			}
			return nil
		},
	}
}

// watchCmd follows a local flag file. It needs no server connection.
func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <flag-file>",
		Short: "Print the kill switch flag file whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if st, err := flag.ReadFile(args[0]); err == nil {
				fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.RFC3339), st.FlagValue())
			}

			w, err := flag.NewWatcher(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = w.Close() }()
			if err := w.Start(cmd.Context()); err != nil {
				return err
			}

			for ev := range w.Events() {
				if ev.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s error: %v\n", time.Now().Format(time.RFC3339), ev.Err)
					continue
				}
				fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.RFC3339), ev.Status.FlagValue())
			}
			return nil
		},
	}
}

// genkeyCmd writes the Ed25519 key pair the server signs tokens with.
func genkeyCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a persistent JWT signing key pair",
		Long: `Writes jwt_private.pem and jwt_public.pem into --dir. Point
MC_JWT_PRIVATE_KEY and MC_JWT_PUBLIC_KEY at them so tokens survive restarts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			privPath, pubPath, err := auth.WriteKeyPair(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %s\n", privPath)
			fmt.Fprintf(out, "wrote %s\n", pubPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "data", "output directory")
	return cmd
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
