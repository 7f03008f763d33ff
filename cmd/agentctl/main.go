package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/app"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/config"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/logging"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/parser"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/repository"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/services"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

var (
	configFile string
	operator   string
	execute    bool
	listLimit  int
)

var rootCmd = &cobra.Command{
	Use:           "agentctl",
	Short:         "Operator CLI for verifiable agent workflows",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var parseCmd = &cobra.Command{
	Use:   "parse <command>",
	Short: "Show the steps a command compiles to without storing it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(parser.New().Parse(strings.Join(args, " ")))
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <command>",
	Short: "Store a workflow compiled from a command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if execute {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				record, err := rt.Service.Submit(ctx, text, operator)
				if err != nil {
					return err
				}
				done, err := rt.Service.Execute(ctx, record.ID)
				if err != nil {
					return err
				}
				return printJSON(done)
			})
		}
		return withStore(func(ctx context.Context, store repository.WorkflowStore, logger *logging.Logger) error {
			record, err := services.NewWorkflowService(store, storeOnly{}, logger).Submit(ctx, text, operator)
			if err != nil {
				return err
			}
			return printJSON(record)
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run <workflow-id>",
	Short: "Execute a stored workflow and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
			record, err := rt.Service.Execute(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(record)
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <workflow-id>",
	Short: "Print a workflow record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store repository.WorkflowStore, _ *logging.Logger) error {
			record, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(record)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent workflows, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store repository.WorkflowStore, _ *logging.Logger) error {
			records, err := store.List(ctx, listLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSTEPS\tCREATED\tDESCRIPTION")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.ID, r.Status, len(r.Steps), r.CreatedAt.Format(time.RFC3339), truncate(r.Description, 60))
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml")
	submitCmd.Flags().StringVar(&operator, "operator", os.Getenv("USER"), "Operator recorded as the workflow creator")
	submitCmd.Flags().BoolVarP(&execute, "execute", "x", false, "Run the workflow after storing it")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of workflows")
	rootCmd.AddCommand(parseCmd, submitCmd, runCmd, showCmd, listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// storeOnly stands in for the executor in commands that never run workflows.
type storeOnly struct{}

func (storeOnly) ExecuteWorkflow(context.Context, string) (*models.WorkflowRecord, error) {
	return nil, errors.New("execution needs the proof oracle; use agentctl run")
}

func load() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel)), nil
}

func withStore(fn func(ctx context.Context, store repository.WorkflowStore, logger *logging.Logger) error) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, store, logger)
}

// withRuntime builds the full engine. Interrupting the process cancels the
// run, which is then recorded as failed.
func withRuntime(fn func(ctx context.Context, rt *app.Runtime) error) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
