package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voyagedocs/internal/checklist"
	"voyagedocs/internal/domain"
	"voyagedocs/internal/engine"
	"voyagedocs/internal/workflow"
)

func docCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "doc",
		Short: "Voyage documents",
		Long:  "Documents are catalog templates tracked per voyage. Due dates are recomputed from the schedule on every read.",
	}
	d.AddCommand(docListCmd())
	d.AddCommand(docShowCmd())
	d.AddCommand(docActionCmd())
	d.AddCommand(docUpdateCmd())
	d.AddCommand(docImportChecklistCmd())
	return d
}

func docListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list VOYAGE",
		Short: "List documents for a voyage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				docs, err := e.VoyageDocs(ctx, projectID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				printDocs(docs)
				return nil
			})
		},
	}
}

func docShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show VOYAGE TEMPLATE",
		Short: "Show one document with history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				view, err := e.Doc(ctx, projectID, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				printDocView(view)
				return nil
			})
		},
	}
}

func docActionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "action VOYAGE TEMPLATE ACTION",
		Short:     "Apply submit, approve, reset or reopen",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{"submit", "approve", "reset", "reopen"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				view, err := e.ApplyAction(ctx, projectID, args[0], args[1], workflow.Action(args[2]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("%s / %s: %s\n", args[0], view.Template.Title, view.StateLabel)
				return nil
			})
		},
	}
}

func docUpdateCmd() *cobra.Command {
	var assignee, org, notes string
	var clearAssignee bool
	var files, urls []string
	cmd := &cobra.Command{
		Use:   "update VOYAGE TEMPLATE",
		Short: "Set assignee or notes, or attach evidence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd engine.DocUpdate
			if cmd.Flags().Changed("assignee") {
				upd.Assignee = &domain.Assignee{Name: assignee, Org: org}
			}
			upd.ClearAssignee = clearAssignee
			if cmd.Flags().Changed("notes") {
				upd.Notes = &notes
			}
			for _, f := range files {
				upd.AddAttachments = append(upd.AddAttachments, engine.AttachmentInput{Name: filepath.Base(f), Type: "file"})
			}
			for _, u := range urls {
				upd.AddAttachments = append(upd.AddAttachments, engine.AttachmentInput{Name: u, Type: "url", URL: u})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				view, err := e.UpdateDoc(ctx, projectID, args[0], args[1], upd, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				printDocView(view)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "responsible party")
	cmd.Flags().StringVar(&org, "org", "", "assignee role, e.g. prepare or verify")
	cmd.Flags().BoolVar(&clearAssignee, "clear-assignee", false, "remove the assignee")
	cmd.Flags().StringVar(&notes, "notes", "", "replace notes")
	cmd.Flags().StringSliceVar(&files, "attach-file", nil, "attach a file by name (repeatable)")
	cmd.Flags().StringSliceVar(&urls, "attach-url", nil, "attach a link (repeatable)")
	return cmd
}

func docImportChecklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-checklist VOYAGE FILE",
		Short: "Apply a checklist JSON export to a voyage",
		Long:  "Rows are matched to catalog templates by document name. Unmatched rows become new templates anchored on MZP arrival.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			items, err := checklist.ParseItems(f)
			f.Close()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				res, err := e.ImportChecklist(ctx, projectID, args[0], items, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Applied %d rows to %s: %d matched, %d new templates\n", len(res.Instances), args[0], len(res.Matched), len(res.NewTemplates))
				for _, t := range res.NewTemplates {
					fmt.Printf("  + %s (%s)\n", t.ID, t.Title)
				}
				return nil
			})
		},
	}
	return cmd
}

func deadlinesCmd() *cobra.Command {
	var voyageID, outPath string
	var asCSV bool
	cmd := &cobra.Command{
		Use:   "deadlines",
		Short: "Deadline ladder across voyages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				var markers []domain.DeadlineMarker
				var err error
				if voyageID != "" {
					markers, err = e.DeadlineMarkers(ctx, projectID, voyageID)
				} else {
					markers, err = e.Ladder(ctx, projectID)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(markers)
				}
				var out io.Writer = os.Stdout
				if outPath != "" {
					f, err := os.Create(outPath)
					if err != nil {
						return err
					}
					defer f.Close()
					out = f
				}
				return writeMarkers(out, markers, asCSV || strings.HasSuffix(strings.ToLower(outPath), ".csv"))
			})
		},
	}
	cmd.Flags().StringVar(&voyageID, "voyage", "", "limit to one voyage")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "write CSV instead of a table")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write to a file")
	return cmd
}

func atRiskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "at-risk",
		Short: "At-risk and overdue documents, soonest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				markers, err := e.AtRisk(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(markers)
				}
				if len(markers) == 0 {
					fmt.Println("Nothing at risk.")
					return nil
				}
				return writeMarkers(os.Stdout, markers, false)
			})
		},
	}
}

func writeMarkers(w io.Writer, markers []domain.DeadlineMarker, asCSV bool) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Voyage", "Date", "Document", "Category", "Risk"})
	for _, m := range markers {
		tw.AppendRow(table.Row{m.VoyageID, m.Date, m.Label, m.Category, m.Risk})
	}
	if asCSV {
		tw.RenderCSV()
	} else {
		tw.Render()
	}
	return nil
}

func printDocs(docs []engine.DocView) {
	tw := newTable("Template", "Title", "State", "Due", "Due state", "Risk", "Assignee")
	for _, d := range docs {
		tw.AppendRow(table.Row{d.Template.ID, d.Template.Title, d.StateLabel, orDash(d.DueDate), d.DueState, d.Risk, assigneeName(d.Instance.Assignee)})
	}
	tw.Render()
}

func printDocView(d engine.DocView) {
	fmt.Printf("%s  %s\n", d.Template.ID, d.Template.Title)
	fmt.Printf("State: %s  Due: %s (%s, %s)\n", d.StateLabel, orDash(d.DueDate), d.DueState, d.Risk)
	if name := assigneeName(d.Instance.Assignee); name != "" {
		fmt.Printf("Assignee: %s\n", name)
	}
	if d.Instance.Notes != "" {
		fmt.Printf("Notes: %s\n", d.Instance.Notes)
	}
	if len(d.Actions) > 0 {
		names := make([]string, 0, len(d.Actions))
		for _, a := range d.Actions {
			names = append(names, string(a))
		}
		fmt.Printf("Actions: %s\n", strings.Join(names, ", "))
	}
	if len(d.MissingEvidence) > 0 {
		fmt.Printf("Missing evidence: %s\n", strings.Join(d.MissingEvidence, ", "))
	}
	if len(d.UnmetDependencies) > 0 {
		fmt.Printf("Waiting on: %s\n", strings.Join(d.UnmetDependencies, ", "))
	}
	if len(d.Instance.Attachments) > 0 {
		tw := newTable("Attachment", "Type", "URL")
		for _, a := range d.Instance.Attachments {
			tw.AppendRow(table.Row{a.Name, a.Type, a.URL})
		}
		tw.Render()
	}
	if len(d.Instance.History) > 0 {
		tw := newTable("At", "Event", "Actor")
		for _, h := range d.Instance.History {
			tw.AppendRow(table.Row{h.At, h.Event, h.Actor})
		}
		tw.Render()
	}
}

func assigneeName(a *domain.Assignee) string {
	if a == nil {
		return ""
	}
	if a.Org != "" {
		return a.Name + " (" + a.Org + ")"
	}
	return a.Name
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
