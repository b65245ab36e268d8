package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"relay/internal/app"
	"relay/internal/config"
	"relay/internal/db"
	"relay/internal/domain"
	"relay/internal/engine"
	"relay/internal/migrate"
	"relay/internal/repo"
	"relay/internal/roles"
	"relay/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay CLI",
	Long: `Relay tracks work items as they move through a fixed pipeline of specialist
roles (intake, research, architecture, implementation, review), records every
handoff, and derives delegation analytics from that history.

- Workspace: your .relay directory with the database; config lives in relay.yml
  or the DB.
- Tasks: work items owned by exactly one role at a time.
- Delegations: the immutable handoff log; completions and rejections travel
  back up the same chain they came down.
- Analytics: role efficiency, common paths, hotspots, and bottlenecks computed
  from the log with 'relay metrics' and 'relay analytics'.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(rolesCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(analyticsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskDelegateCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskHistoryCmd())
	task.AddCommand(taskLifecycleCmd("cancel", "Cancel a task", func(ctx context.Context, e engine.Engine, id string) (domain.Task, error) {
		return e.Cancel(ctx, id, viper.GetString("actor-id"))
	}))
	task.AddCommand(taskLifecycleCmd("pause", "Pause a task", func(ctx context.Context, e engine.Engine, id string) (domain.Task, error) {
		return e.Pause(ctx, id, viper.GetString("actor-id"))
	}))
	task.AddCommand(taskLifecycleCmd("resume", "Resume a paused task", func(ctx context.Context, e engine.Engine, id string) (domain.Task, error) {
		return e.Resume(ctx, id, viper.GetString("actor-id"))
	}))
	return task
}

func taskCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					ID:      id,
					Name:    name,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id (generated if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "task name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Owner", "Updated"})
				for _, t := range tasks {
					owner := ""
					if t.CurrentOwner != nil {
						owner = *t.CurrentOwner
					}
					tw.AppendRow(table.Row{t.ID, t.Name, t.Status, owner, t.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Owner, "owner", "", "owner role filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDelegateCmd() *cobra.Command {
	var from, to, message string
	var needsResearch bool
	cmd := &cobra.Command{
		Use:   "delegate <id>",
		Short: "Hand a task to the next role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.DelegateOptions{
					TaskID:  args[0],
					From:    from,
					To:      to,
					Message: message,
					ActorID: viper.GetString("actor-id"),
					Force:   viper.GetBool("force"),
				}
				if cmd.Flags().Changed("needs-research") {
					opts.NeedsResearch = &needsResearch
				}
				rec, err := e.Delegate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "delegating role")
	cmd.Flags().StringVar(&to, "to", "", "receiving role (default routing when omitted)")
	cmd.Flags().StringVar(&message, "message", "", "handoff note")
	cmd.Flags().BoolVar(&needsResearch, "needs-research", false, "route intake handoffs through research")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var role, outcome, notes string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Finish the current role's work on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, rec, err := e.Complete(ctx, engine.CompleteOptions{
					TaskID:  args[0],
					Role:    role,
					Outcome: outcome,
					Notes:   notes,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				out := map[string]any{"task": t}
				if rec != nil {
					out["record"] = rec
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "completing role")
	cmd.Flags().StringVar(&outcome, "outcome", "completed", "completed or rejected")
	cmd.Flags().StringVar(&notes, "notes", "", "notes (required for rejections)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var completedUnits, totalUnits int
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Derived task status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.Status(ctx, args[0], engine.StatusOptions{
					CompletedUnits: completedUnits,
					TotalUnits:     totalUnits,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	}
	cmd.Flags().IntVar(&completedUnits, "completed-units", 0, "completed sub-units")
	cmd.Flags().IntVar(&totalUnits, "total-units", 0, "total sub-units")
	return cmd
}

func taskHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Delegation history for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetTask(ctx, args[0]); err != nil {
					return err
				}
				records, err := e.Repo.ListDelegations(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"From", "To", "Delegated", "Completed", "Success", "Reason"})
				for _, r := range records {
					tw.AppendRow(table.Row{
						r.FromRole, r.ToRole, r.DelegatedAt,
						strOrDash(r.CompletedAt), boolOrDash(r.Success), strOrDash(r.RejectionReason),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskLifecycleCmd(use, short string, fn func(context.Context, engine.Engine, string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := fn(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Workspace scoreboard",
		Long:  "See the scoreboard for your workspace: task counts by status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"workspace_id": e.Config.Workspace.ID,
					"database":     db.Path(viper.GetString("workspace")),
					"task_counts":  counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Workspace: %s (%s)\n", e.Config.Workspace.ID, db.Path(viper.GetString("workspace")))
				fmt.Println("Tasks:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
}

func rolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "List workflow roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			type roleRow struct {
				Role        string   `json:"role"`
				Label       string   `json:"label"`
				Icon        string   `json:"icon"`
				Description string   `json:"description"`
				DelegatesTo []string `json:"delegates_to"`
			}
			rows := []roleRow{}
			for _, r := range roles.All() {
				info := roles.Describe(r)
				targets := []string{}
				for _, t := range roles.All() {
					if roles.IsLegalTransition(r, t) {
						targets = append(targets, string(t))
					}
				}
				rows = append(rows, roleRow{
					Role: string(r), Label: info.Label, Icon: info.Icon,
					Description: info.Description, DelegatesTo: targets,
				})
			}
			if viper.GetBool("json") {
				return printJSON(rows)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Role", "Label", "Delegates To", "Description"})
			for _, r := range rows {
				tw.AppendRow(table.Row{r.Role, r.Icon + " " + r.Label, strings.Join(r.DelegatesTo, ", "), r.Description})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func metricFilterFlags(cmd *cobra.Command, f *engine.MetricFilters) {
	cmd.Flags().StringVar(&f.TaskID, "task", "", "task id filter")
	cmd.Flags().StringVar(&f.Role, "role", "", "role filter")
	cmd.Flags().StringVar(&f.StartDate, "start", "", "start date (RFC3339)")
	cmd.Flags().StringVar(&f.EndDate, "end", "", "end date (RFC3339)")
}

func metricsCmd() *cobra.Command {
	var f engine.MetricFilters
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Per-role performance metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				metrics, err := e.RoleMetrics(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(metrics)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Role", "Received", "Completed", "Avg Time", "Success", "Efficiency", "Share", "Quality"})
				for _, m := range metrics {
					tw.AppendRow(table.Row{
						m.Role, m.TasksReceived, m.TasksCompleted, m.AverageCompletionTime,
						fmt.Sprintf("%.0f%%", m.SuccessRate*100),
						fmt.Sprintf("%.1f", m.DelegationEfficiency),
						fmt.Sprintf("%.0f%%", m.WorkloadShare*100),
						fmt.Sprintf("%.1f", m.QualityScore),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	metricFilterFlags(cmd, &f)
	return cmd
}

func analyticsCmd() *cobra.Command {
	var f engine.MetricFilters
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Cross-task delegation analytics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.Analytics(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	metricFilterFlags(cmd, &f)
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (defaults to workspace relay.yml)")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a config file into the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertConfig(ctx, cfg); err != nil {
					return err
				}
				fmt.Printf("Imported %s\n", file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file to import")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default relay.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.WriteDefault(path, id); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "relay", "workspace id")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: task changes, handoffs, pauses, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyRevokeCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The plaintext is shown once and never stored.
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"api_key":  secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("RELAY_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("RELAY_JWT_SECRET is required for bearer auth (or use --allow-legacy-actor-header)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Relay API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without credentials (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		cfg, err := app.ResolveConfig(ctx, viper.GetString("workspace"), r)
		if err != nil {
			return err
		}
		e := engine.New(r.DB, cfg)
		return fn(ctx, e)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func strOrDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func boolOrDash(b *bool) string {
	if b == nil {
		return "-"
	}
	return fmt.Sprintf("%t", *b)
}
