package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"aletheia/internal"
	"aletheia/internal/config"
	"aletheia/internal/container"
	"aletheia/internal/export"
	"aletheia/internal/research"
	"aletheia/models"
	"aletheia/ports"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "aletheia",
		Short:         "Aletheia CLI for running and inspecting research tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newListCmd(),
		newShowCmd(),
		newExportCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// openContainer loads configuration and wires the engine with extra trace sinks
func openContainer(ctx context.Context, sinks ...ports.TraceSink) (*container.Container, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := internal.NewLoggerWithOptions(internal.LogOptions{Level: "ERROR", File: cfg.Log.File})

	c, err := container.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx, sinks...); err != nil {
		return nil, err
	}
	return c, nil
}

func closeContainer(c *container.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = c.Shutdown(ctx)
}

func newRunCmd() *cobra.Command {
	var (
		scope         string
		maxIterations int
		maxTokens     int
		maxCost       float64
		maxWallTime   time.Duration
		maxResults    int
		allowed       []string
		blocked       []string
		timeWindow    time.Duration
		locale        string
		docs          []string
		htmlOut       string
	)

	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Run a research task and print the final report",
		Long: `Run a research task to completion in this process, streaming stage events.

Example: aletheia run "solid-state battery outlook 2030" --scope focused --max-iterations 3 --doc notes.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := research.SubmitRequest{
				Query: strings.Join(args, " "),
				Scope: models.Scope(scope),
				Budget: models.Budget{
					MaxIterations: maxIterations,
					MaxTokens:     maxTokens,
					MaxCost:       maxCost,
					MaxWallTime:   maxWallTime,
				},
				Constraints: models.Constraints{
					MaxResults:     maxResults,
					AllowedDomains: allowed,
					BlockedDomains: blocked,
					TimeWindow:     timeWindow,
					Locale:         locale,
				},
			}
			for _, path := range docs {
				req.Documents = append(req.Documents, models.DocumentRef{Name: filepath.Base(path), Path: path})
			}
			return runTask(cmd.Context(), req, htmlOut)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Scope: focused|broad|comprehensive")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Iteration cap (0 uses the configured default)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Token budget (0 is unlimited)")
	cmd.Flags().Float64Var(&maxCost, "max-cost", 0, "Cost budget (0 is unlimited)")
	cmd.Flags().DurationVar(&maxWallTime, "max-wall-time", 0, "Wall-clock budget")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "Results per search call")
	cmd.Flags().StringSliceVar(&allowed, "allow-domain", nil, "Only search these domains")
	cmd.Flags().StringSliceVar(&blocked, "block-domain", nil, "Never use these domains")
	cmd.Flags().DurationVar(&timeWindow, "time-window", 0, "Only sources published within this window")
	cmd.Flags().StringVar(&locale, "locale", "", "Search locale, e.g. en-US")
	cmd.Flags().StringSliceVar(&docs, "doc", nil, "Local document to include as evidence (repeatable)")
	cmd.Flags().StringVar(&htmlOut, "html", "", "Also write the report as HTML to this file")
	return cmd
}

func runTask(ctx context.Context, req research.SubmitRequest, htmlOut string) error {
	c, err := openContainer(ctx, newConsoleSink())
	if err != nil {
		return err
	}
	defer closeContainer(c)

	task, err := c.Manager.Submit(ctx, req)
	if err != nil {
		return err
	}
	pterm.Info.Printfln("Task %s submitted", task.ID)

	report, err := c.Manager.Wait(ctx, task.ID)
	if err != nil && report == nil {
		return err
	}
	if err != nil {
		pterm.Warning.Printfln("Task ended early: %v", err)
	}

	pterm.Println()
	pterm.Println(export.ReportMarkdown(report))
	printReportSummary(report)

	if htmlOut != "" {
		return writeHTML(report, task.Query, htmlOut)
	}
	return nil
}

func newListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored research tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer closeContainer(c)

			tasks, err := c.Store.ListTasks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				pterm.Warning.Println("No tasks found.")
				return nil
			}
			return pterm.DefaultTable.
				WithHasHeader(true).
				WithBoxed(false).
				WithData(taskTable(tasks)).
				Render()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum tasks to show")
	return cmd
}

func newShowCmd() *cobra.Command {
	var htmlOut string

	cmd := &cobra.Command{
		Use:   "show [task-id]",
		Short: "Print the report of a stored task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			c, err := openContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer closeContainer(c)

			task, err := c.Store.GetTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			report, err := c.Store.GetReport(cmd.Context(), id)
			if err != nil {
				return err
			}

			pterm.DefaultSection.Println(task.Query)
			pterm.Println(export.ReportMarkdown(report))
			printReportSummary(report)
			if htmlOut != "" {
				return writeHTML(report, task.Query, htmlOut)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&htmlOut, "html", "", "Write the report as HTML to this file")
	return cmd
}

func newExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export [task-id]",
		Short: "Write a task's plan, iterations, report and usage to an xlsx workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			c, err := openContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer closeContainer(c)

			manifest, err := export.LoadManifest(cmd.Context(), c.Store, id)
			if err != nil {
				return err
			}
			if out == "" {
				out = id.String() + ".xlsx"
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := export.WriteManifest(f, manifest); err != nil {
				return err
			}
			pterm.Success.Printfln("Wrote %s", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file (default <task-id>.xlsx)")
	return cmd
}

func writeHTML(report *models.Report, title, path string) error {
	page, err := export.RenderHTML(report, title)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, page, 0644); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote %s", path)
	return nil
}
