package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voyagedocs/internal/domain"
	"voyagedocs/internal/engine"
	"voyagedocs/internal/ingest"
)

func scheduleCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "schedule",
		Short: "Manage the imported schedule",
	}
	s.AddCommand(scheduleImportCmd())
	s.AddCommand(scheduleShowCmd())
	return s
}

func scheduleImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the schedule from a TSV/CSV or JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := ingest.ParseFile(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				imp, err := e.ImportSchedule(ctx, projectID, tasks, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				voyages, err := e.Voyages(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"import": imp, "voyages": voyages})
				}
				fmt.Printf("Imported %d tasks from %s; %d voyages derived\n", imp.TaskCount, imp.Source, len(voyages))
				printVoyages(voyages)
				return nil
			})
		},
	}
	return cmd
}

func scheduleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the last import and stored tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				tasks, err := e.Tasks(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				printTasks(tasks)
				return nil
			})
		},
	}
}

func voyageCmd() *cobra.Command {
	v := &cobra.Command{
		Use:   "voyage",
		Short: "Voyages derived from the schedule",
	}
	v.AddCommand(voyageListCmd())
	v.AddCommand(voyageShowCmd())
	return v
}

func voyageListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List voyages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				voyages, err := e.Voyages(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(voyages)
				}
				printVoyages(voyages)
				return nil
			})
		},
	}
}

func voyageShowCmd() *cobra.Command {
	var withTasks bool
	cmd := &cobra.Command{
		Use:   "show VOYAGE",
		Short: "Show a voyage, its window and documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				v, err := e.Voyage(ctx, projectID, args[0])
				if err != nil {
					return err
				}
				window, err := e.VoyageWindow(ctx, projectID, v.ID)
				if err != nil {
					return err
				}
				docs, err := e.VoyageDocs(ctx, projectID, v.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"voyage": v, "window": window, "docs": docs})
				}
				fmt.Printf("%s  %s (%s)\n", v.ID, v.Label, v.CargoLabel)
				if window.Start != "" {
					fmt.Printf("Window: %s -> %s (%d tasks)\n", window.Start, window.End, len(window.Tasks))
				}
				tw := newTable("Milestone", "Date")
				for _, key := range domain.MilestoneKeys {
					date, ok := v.Milestone(key)
					if !ok {
						date = "-"
					}
					tw.AppendRow(table.Row{key, date})
				}
				tw.Render()
				printDocs(docs)
				if withTasks {
					printTasks(window.Tasks)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withTasks, "tasks", false, "also list the voyage's tasks")
	return cmd
}

func printVoyages(voyages []domain.Voyage) {
	tw := newTable("ID", "Label", "Cargo", "MZP Arrival", "Doc Deadline", "Load-out", "AGI Arrival")
	for _, v := range voyages {
		tw.AppendRow(table.Row{
			v.ID, v.Label, v.CargoLabel,
			milestoneOrDash(v, domain.MilestoneMZPArrival),
			milestoneOrDash(v, domain.MilestoneDocDeadline),
			milestoneOrDash(v, domain.MilestoneLoadoutStart),
			milestoneOrDash(v, domain.MilestoneAGIArrival),
		})
	}
	tw.Render()
}

func printTasks(tasks []domain.ScheduledTask) {
	tw := newTable("ID", "Group", "Name", "Start", "Finish", "Days")
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.ActivityID2, strings.Repeat("  ", max(t.Level-1, 0)) + t.Name, t.StartDate, t.EndDate, t.Duration})
	}
	tw.Render()
}

func milestoneOrDash(v domain.Voyage, key domain.MilestoneKey) string {
	if d, ok := v.Milestone(key); ok {
		return d
	}
	return "-"
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(headers))
	return tw
}

func rowOf(cells ...any) table.Row {
	return table.Row(cells)
}
