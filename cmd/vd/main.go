package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voyagedocs/internal/app"
	"voyagedocs/internal/calendar"
	"voyagedocs/internal/config"
	"voyagedocs/internal/db"
	"voyagedocs/internal/engine"
	"voyagedocs/internal/migrate"
	"voyagedocs/internal/repo"
	"voyagedocs/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "vd",
	Short: "Voyagedocs CLI",
	Long: `Voyagedocs tracks the documents each sea voyage needs before it sails.
- Workspace: the .voyagedocs directory holding the database; voyagedocs.yml seeds new projects.
- Schedule: the planning export (TSV/CSV or JSON). Importing it replaces the stored task list.
- Voyages: derived from the schedule by trip group, with milestone dates found by name patterns.
- Templates: the document catalog. Each template anchors its due date on a voyage milestone.
- Workflow: not_started -> submitted -> approved, via submit/approve/reset/reopen.
- Deadlines: markers per voyage with ON_TRACK, AT_RISK, OVERDUE or UNKNOWN risk.
- Event log: every change, view with 'vd log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VOYAGEDOCS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to the only project)")
	rootCmd.PersistentFlags().String("today", "", "evaluate deadlines as of this date (YYYY-MM-DD)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log warnings to stderr")
	rootCmd.PersistentFlags().String("db", "", "database file (default: <workspace>/.voyagedocs/voyagedocs.db)")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "today", "verbose", "db"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(voyageCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(deadlinesCmd())
	rootCmd.AddCommand(atRiskCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var id, filePath string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project and write voyagedocs.yml",
		Long:  "Creates the project in the workspace database. The config comes from --config, the workspace voyagedocs.yml, or the built-in default, which is also written to voyagedocs.yml when missing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			var cfg *config.Config
			var err error
			switch {
			case filePath != "":
				cfg, err = config.FromFile(filePath)
			default:
				cfg, err = config.LoadOptional(workspace)
			}
			if err != nil {
				return err
			}
			if id == "" && cfg != nil {
				id = cfg.Project.ID
			}
			if id == "" {
				return fmt.Errorf("--id required")
			}
			if cfg == nil {
				if err := os.WriteFile(config.Path(workspace), []byte(config.GenerateDefault(id)), 0o644); err != nil {
					return err
				}
				cfg = config.Default(id)
			}
			cfg.Project.ID = id
			return withDB(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.InitProject(ctx, id, cfg, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Project %s created with %d templates and %d trip groups\n", p.ID, len(cfg.Templates), len(cfg.Schedule.TripGroups))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&filePath, "config", "", "path to YAML config")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "The scoreboard: schema version, last schedule import, voyages and how many documents are at risk.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				schema, err := migrate.Status(ctx, e.DB)
				if err != nil {
					return err
				}
				imp, err := e.Repo.LatestScheduleImport(ctx, projectID)
				if err != nil && !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				voyages, err := e.Voyages(ctx, projectID)
				if err != nil {
					return err
				}
				atRisk, err := e.AtRisk(ctx, projectID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id": projectID,
					"today":      calendar.Format(e.Today()),
					"schema":     schema,
					"voyages":    len(voyages),
					"at_risk":    len(atRisk),
				}
				if imp.ID != 0 {
					out["last_import"] = imp
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (today %s, schema v%d)\n", projectID, out["today"], schema.Current)
				if imp.ID != 0 {
					fmt.Printf("Last schedule import: %s, %d tasks at %s by %s\n", imp.Source, imp.TaskCount, imp.ImportedAt, imp.ActorID)
				} else {
					fmt.Println("Last schedule import: none")
				}
				fmt.Printf("Voyages: %d\nAt risk or overdue: %d\n", len(voyages), len(atRisk))
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect project config",
		Long:  "Config is the rulebook stored in the DB: trip groups, milestone patterns, deadline settings and the document template catalog. Import from voyagedocs.yml when it changes.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				return printJSON(e.Config)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				filePath = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				cfg.Project.ID = projectID
				if err := e.ImportConfig(ctx, projectID, cfg, viper.GetString("actor-id")); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				fmt.Printf("Imported %s: %d templates, %d trip groups\n", filePath, len(cfg.Templates), len(cfg.Schedule.TripGroups))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config (default: workspace voyagedocs.yml)")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				if err := e.Config.Validate(); err != nil {
					return err
				}
				_, err := e.Config.VoyageRules()
				return err
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every imported schedule, config change and document transition, newest first.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID, voyageID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				events, err := e.Repo.RecentEvents(ctx, n, repo.EventFilter{
					ProjectID:  projectID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					VoyageID:   voyageID,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor", "Payload")
				for _, evt := range events {
					tw.AppendRow(rowOf(evt.ID, evt.TS, evt.Type, evt.EntityKind+":"+evt.EntityID, evt.ActorID, evt.Payload))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&voyageID, "voyage", "", "only events for this voyage and its documents")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				logger := log.New(os.Stderr, "vd: ", log.LstdFlags)
				e.Logger = logger
				handler, err := server.New(server.Config{
					Engine:       e,
					BasePath:     basePath,
					DefaultActor: viper.GetString("actor-id"),
					Logger:       logger,
				})
				if err != nil {
					return err
				}
				if server.StartWebhooks(ctx, e, projectID, e.Config.Webhooks, logger) {
					logger.Printf("delivering events to %d webhook(s)", len(e.Config.Webhooks))
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving voyagedocs API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

// withDB opens and migrates the workspace database without resolving a project.
func withDB(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace, Path: viper.GetString("db")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e, err := newEngine(engine.New(conn, nil))
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withDB(ctx, func(ctx context.Context, e engine.Engine) error {
		projectID, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("workspace"), viper.GetString("project"), viper.GetString("actor-id"), e)
		if err != nil {
			return err
		}
		e.Config = cfg
		return fn(ctx, e, projectID)
	})
}

// newEngine applies the --today and --verbose flags.
func newEngine(e engine.Engine) (engine.Engine, error) {
	if viper.GetBool("verbose") {
		e.Logger = log.New(os.Stderr, "vd: ", 0)
	}
	if today := strings.TrimSpace(viper.GetString("today")); today != "" {
		day, err := calendar.ParseDate(today)
		if err != nil {
			return e, fmt.Errorf("--today: %w", err)
		}
		e.Now = func() time.Time { return day }
	}
	return e, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
