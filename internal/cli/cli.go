// Package cli wires the cobra commands for the steward binary.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/petrijr/steward/internal/approval"
	"github.com/petrijr/steward/internal/bus"
	"github.com/petrijr/steward/internal/catalog"
	"github.com/petrijr/steward/internal/engine"
	"github.com/petrijr/steward/internal/eventlog"
	"github.com/petrijr/steward/internal/metrics"
	"github.com/petrijr/steward/internal/runstore"
	"github.com/petrijr/steward/pkg/api"
)

// system is the CLI-side bundle: contractual JSON file formats for the
// event log and metrics, SQLite for run history so status survives across
// invocations.
type system struct {
	bus     *bus.EventBus
	engine  *engine.Engine
	catalog *catalog.Catalog
	metrics *metrics.Recorder
	db      *sql.DB
}

func (s *system) close() {
	if s.db != nil {
		s.db.Close()
	}
}

func openSystem(dataDir string, gateTimeout time.Duration) (*system, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	logger := slog.Default()
	ctx := context.Background()

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "steward.db"))
	if err != nil {
		return nil, err
	}
	runs, err := runstore.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	b := bus.New(bus.Config{
		Log:    eventlog.NewFileLog(filepath.Join(dataDir, "events.json")),
		Logger: logger,
	})

	rec, err := metrics.NewRecorder(ctx, metrics.NewFileStore(filepath.Join(dataDir, "metrics.json")), logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	gw := approval.New(approval.Config{
		Bus:          b,
		Logger:       logger,
		PollInterval: 2 * time.Second,
	})

	cat := catalog.NewWithBuiltins()
	if tplPath := filepath.Join(dataDir, "templates.yaml"); fileExists(tplPath) {
		if err := cat.LoadFile(tplPath); err != nil {
			db.Close()
			return nil, err
		}
	}

	eng := engine.New(engine.Config{
		Catalog:     cat,
		Bus:         b,
		Gateway:     gw,
		Metrics:     rec,
		Runs:        runs,
		Observer:    api.NewLoggingObserver(logger),
		Logger:      logger,
		GateTimeout: gateTimeout,
	})

	return &system{bus: b, engine: eng, catalog: cat, metrics: rec, db: db}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// fail prints a clear message and exits with code 1.
func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// SetupCLI registers every subcommand on the root command.
func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("data", ".steward", "data directory for the event log, metrics and run history")

	rootCmd.AddCommand(
		startWorkflowCmd(),
		showStatusCmd(),
		listWorkflowsCmd(),
		showHistoryCmd(),
		replayHistoryCmd(),
		showWorkflowStatusCmd(),
		showMetricsCmd(),
		approveCmd(),
		rejectCmd(),
	)
}

func mustOpen(cmd *cobra.Command, gateTimeout time.Duration) *system {
	dataDir, err := cmd.Flags().GetString("data")
	if err != nil {
		fail("error reading data flag: %v", err)
	}
	sys, err := openSystem(dataDir, gateTimeout)
	if err != nil {
		fail("error opening data dir %s: %v", dataDir, err)
	}
	sys.metrics.Inc(cmd.Context(), metrics.CounterCommandsReceived)
	return sys
}

func startWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start-workflow",
		Short: "Create and start a workflow run",
		Run: func(cmd *cobra.Command, args []string) {
			name, _ := cmd.Flags().GetString("workflow")
			if name == "" {
				fail("missing required flag: --workflow")
			}
			agentsCSV, _ := cmd.Flags().GetString("agents")
			commandsCSV, _ := cmd.Flags().GetString("commands")
			priority, _ := cmd.Flags().GetString("priority")
			gateTimeout, _ := cmd.Flags().GetDuration("gate-timeout")

			sys := mustOpen(cmd, gateTimeout)
			defer sys.close()

			tpl, err := sys.catalog.Get(name)
			if err != nil {
				fail("unknown workflow: %s", name)
			}

			agents := splitOrFill(agentsCSV, len(tpl.Steps), "default")
			commands := splitOrFill(commandsCSV, len(tpl.Steps), "")
			for i := range commands {
				if commands[i] == "" {
					commands[i] = tpl.Steps[i].EventType
				}
			}

			run, err := sys.engine.Create(name, agents, commands, priority)
			if err != nil {
				fail("error creating run: %v", err)
			}
			fmt.Printf("created run %s (template %s)\n", run.ID, run.TemplateName)

			run, err = sys.engine.Start(cmd.Context(), run.ID)
			if err != nil {
				fail("run %s failed: %v", run.ID, err)
			}
			fmt.Printf("run %s finished with status %s at step %d\n", run.ID, run.Status, run.CurrentStepIndex)
		},
	}
	cmd.Flags().String("workflow", "", "template name (required)")
	cmd.Flags().String("agents", "", "comma-separated agent per step")
	cmd.Flags().String("commands", "", "comma-separated command per step")
	cmd.Flags().String("priority", "normal", "run priority")
	cmd.Flags().Duration("gate-timeout", time.Minute, "how long approval gates wait for a decision")
	return cmd
}

func splitOrFill(csv string, n int, fill string) []string {
	if csv == "" {
		out := make([]string, n)
		for i := range out {
			out[i] = fill
		}
		return out
	}
	return strings.Split(csv, ",")
}

func showStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-status",
		Short: "List every workflow run and its status",
		Run: func(cmd *cobra.Command, args []string) {
			sys := mustOpen(cmd, 0)
			defer sys.close()

			runs, err := sys.engine.ListRuns(api.RunListOptions{})
			if err != nil {
				fail("error listing runs: %v", err)
			}
			if len(runs) == 0 {
				fmt.Println("no runs")
				return
			}
			for _, run := range runs {
				fmt.Printf("%s  %-22s %-10s step %d/%d\n",
					run.ID, run.TemplateName, run.Status, run.CurrentStepIndex, len(run.Steps))
			}
		},
	}
}

func listWorkflowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-workflows",
		Short: "List registered workflow templates",
		Run: func(cmd *cobra.Command, args []string) {
			sys := mustOpen(cmd, 0)
			defer sys.close()

			for _, name := range sys.catalog.List() {
				tpl, err := sys.catalog.Get(name)
				if err != nil {
					continue
				}
				gates := 0
				for _, s := range tpl.Steps {
					if s.IsApprovalGate {
						gates++
					}
				}
				fmt.Printf("%-24s %d steps, %d approval gates\n", name, len(tpl.Steps), gates)
			}
		},
	}
}

func showHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-history",
		Short: "Print the event log in order",
		Run: func(cmd *cobra.Command, args []string) {
			sys := mustOpen(cmd, 0)
			defer sys.close()

			events, err := sys.bus.GetEvents(cmd.Context(), "", time.Time{})
			if err != nil {
				fail("error reading events: %v", err)
			}
			for _, ev := range events {
				printEvent(ev)
			}
		},
	}
}

func replayHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay-history",
		Short: "Replay the event log step by step",
		Run: func(cmd *cobra.Command, args []string) {
			sys := mustOpen(cmd, 0)
			defer sys.close()

			events, err := sys.bus.GetEvents(cmd.Context(), "", time.Time{})
			if err != nil {
				fail("error reading events: %v", err)
			}
			fmt.Printf("replaying %d events\n", len(events))
			for i, ev := range events {
				fmt.Printf("[%d/%d] ", i+1, len(events))
				printEvent(ev)
			}
		},
	}
}

func showWorkflowStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show-workflow-status",
		Short: "Show runs of one workflow template",
		Run: func(cmd *cobra.Command, args []string) {
			name, _ := cmd.Flags().GetString("workflow")
			if name == "" {
				fail("missing required flag: --workflow")
			}

			sys := mustOpen(cmd, 0)
			defer sys.close()

			runs, err := sys.engine.ListRuns(api.RunListOptions{TemplateName: name})
			if err != nil {
				fail("error listing runs: %v", err)
			}
			if len(runs) == 0 {
				fmt.Printf("no runs for workflow %s\n", name)
				return
			}
			for _, run := range runs {
				line := fmt.Sprintf("%s  %-10s step %d/%d",
					run.ID, run.Status, run.CurrentStepIndex, len(run.Steps))
				if run.Err != nil {
					line += "  error: " + run.Err.Error()
				}
				fmt.Println(line)
			}
		},
	}
	cmd.Flags().String("workflow", "", "template name (required)")
	return cmd
}

func showMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-metrics",
		Short: "Print counters and workflow durations",
		Run: func(cmd *cobra.Command, args []string) {
			sys := mustOpen(cmd, 0)
			defer sys.close()

			snap := sys.metrics.Snapshot()
			for name, v := range snap.Counters {
				fmt.Printf("%-24s %d\n", name, v)
			}
			for name, secs := range snap.WorkflowDurations {
				fmt.Printf("duration %-15s %.3fs\n", name, secs)
			}
		},
	}
}

func approveCmd() *cobra.Command {
	return decisionCmd("approve", true)
}

func rejectCmd() *cobra.Command {
	return decisionCmd("reject", false)
}

// decisionCmd publishes a decision event; a waiting gate in another
// process polls the shared log and picks it up.
func decisionCmd(use string, approved bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: use + " a pending approval request",
		Run: func(cmd *cobra.Command, args []string) {
			alertID, _ := cmd.Flags().GetString("alert")
			if alertID == "" {
				fail("missing required flag: --alert")
			}
			user, _ := cmd.Flags().GetString("user")
			channel, _ := cmd.Flags().GetString("channel")

			sys := mustOpen(cmd, 0)
			defer sys.close()

			payload := api.DecisionPayload{
				AlertID:  alertID,
				Approved: approved,
				User:     user,
				Channel:  channel,
			}
			if _, err := sys.bus.PublishCorrelated(cmd.Context(), api.EventDecision, payload.ToPayload(), alertID); err != nil {
				fail("error publishing decision: %v", err)
			}
			fmt.Printf("decision recorded for %s: approved=%v\n", alertID, approved)
		},
	}
	cmd.Flags().String("alert", "", "alert id of the approval request (required)")
	cmd.Flags().String("user", "", "deciding user")
	cmd.Flags().String("channel", "", "channel the decision came from")
	return cmd
}

func printEvent(ev api.Event) {
	fmt.Printf("%s  %-24s %v\n", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Payload)
}
