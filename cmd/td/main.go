package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
	"taskdesk/internal/repo"
	"taskdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "td",
	Short: "Taskdesk CLI",
	Long: `Taskdesk is a multi-user task tracker.
Users register and log in; admins can assign tasks to several users at
once (one task row per assignee). Tasks flow todo -> done or todo ->
cancel, both terminal. The workspace holds a .taskdesk SQLite database
and an optional taskdesk.yml.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		// Optional workspace .env, e.g. TASKDESK_JWT_SECRET.
		_ = godotenv.Load(filepath.Join(workspace, ".env"))
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
	viper.SetEnvPrefix("TASKDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "acting user id for local operations")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(configCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect workspace configuration"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configCheckCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{
				"config_file": config.Path(workspace),
				"database":    db.Path(workspace),
				"server":      cfg.Server,
				"auth":        cfg.Auth,
			})
		},
	}
	return cmd
}

// configCheckCmd requires the file to exist, unlike show which falls
// back to defaults.
func configCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate taskdesk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := config.Load(workspace); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", config.Path(workspace))
			return nil
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userRegisterCmd())
	user.AddCommand(userBootstrapAdminCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userShowCmd())
	user.AddCommand(userUpdateCmd())
	user.AddCommand(userDeactivateCmd())
	user.AddCommand(userDeleteCmd())
	user.AddCommand(userTokenCmd())
	return user
}

func userRegisterCmd() *cobra.Command {
	var opts engine.RegisterOptions
	var role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Role = domain.Role(role)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caller, err := optionalPrincipal(ctx, e)
				if err != nil {
					return err
				}
				u, err := e.RegisterUser(ctx, caller, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Username, "username", "", "username (3-15 characters, unique)")
	cmd.Flags().StringVar(&opts.Fullname, "fullname", "", "full name")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password (6+ characters)")
	cmd.Flags().StringVar(&role, "role", "", "role (user or admin; admin needs an admin --as)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("fullname")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// userBootstrapAdminCmd seeds the first admin without the role gate.
// There is no API equivalent; this only works with local DB access.
func userBootstrapAdminCmd() *cobra.Command {
	var opts engine.RegisterOptions
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the first admin account (local only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Role = domain.RoleAdmin
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				admins, err := e.Repo.CountUsersByRole(ctx, domain.RoleAdmin)
				if err != nil {
					return err
				}
				if admins > 0 {
					return fmt.Errorf("an admin already exists; use 'td user register --role admin --as <admin-id>'")
				}
				bootstrap := domain.Principal{Role: domain.RoleAdmin}
				u, err := e.RegisterUser(ctx, &bootstrap, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Username, "username", "", "username")
	cmd.Flags().StringVar(&opts.Fullname, "fullname", "", "full name")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("fullname")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	var f repo.UserFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.ListUsers(ctx, p, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Username", "Fullname", "Role", "Status"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Username, u.Fullname, u.Role, u.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (active, inactive)")
	cmd.Flags().StringVar(&f.Role, "role", "", "role filter (user, admin)")
	cmd.Flags().StringVar(&f.Username, "username", "", "exact username filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows (0 means all)")
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				u, err := e.GetUser(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userUpdateCmd() *cobra.Command {
	var fullname string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a user's full name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				var opts engine.UserUpdateOptions
				if cmd.Flags().Changed("fullname") {
					opts.Fullname = &fullname
				}
				u, err := e.UpdateUser(ctx, p, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&fullname, "fullname", "", "new full name")
	return cmd
}

func userDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Deactivate a user (soft delete, no way back)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				u, err := e.DeactivateUser(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Hard-delete a user; their tasks keep dangling references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				return e.DeleteUser(ctx, p, args[0])
			})
		},
	}
	return cmd
}

func userTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <id>",
		Short: "Issue a bearer token for a user (local only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("TASKDESK_JWT_SECRET is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				token, expires, err := server.IssueToken(u, secret, ttl, time.Now())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"token":      token,
					"expires_at": expires.UTC().Format(time.RFC3339),
				})
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow todo -> done or todo -> cancel; done and cancel are terminal. Admins can fan a task out to several assignees at once.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskMineCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskCancelCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task (admins: one per --assign)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				res, err := e.CreateTasks(ctx, p, opts)
				if err != nil {
					return err
				}
				for _, f := range res.Failed {
					fmt.Fprintf(os.Stderr, "skipped %s: %s\n", f.Field, f.Message)
				}
				return printJSONOrTable(res.Created)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (RFC 3339)")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC 3339)")
	cmd.Flags().StringArrayVar(&opts.AssignedTo, "assign", []string{}, "assignee user id (repeatable, admin only)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tasks (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				views, err := e.ListAllTasks(ctx, p, f)
				if err != nil {
					return err
				}
				return printTaskViews(views)
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (todo, done, cancel)")
	cmd.Flags().StringVar(&f.AssignedTo, "assignee", "", "assignee user id filter")
	cmd.Flags().StringVar(&f.CreatedBy, "creator", "", "creator user id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows (0 means all)")
	return cmd
}

func taskMineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "List my tasks (cancelled hidden)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				views, err := e.ListMyTasks(ctx, p)
				if err != nil {
					return err
				}
				return printTaskViews(views)
			})
		},
	}
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				v, err := e.GetTask(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, start, due string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields (todo tasks only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts engine.TaskUpdateOptions
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("start") {
				opts.StartDate = &start
			}
			if cmd.Flags().Changed("due") {
				opts.DueDate = &due
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.UpdateTask(ctx, p, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&start, "start", "", "new start date (RFC 3339)")
	cmd.Flags().StringVar(&due, "due", "", "new due date (RFC 3339)")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.CompleteTask(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a task (soft delete)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.CancelTask(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Hard-delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingPrincipal(ctx, e)
				if err != nil {
					return err
				}
				return e.DeleteTask(ctx, p, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") || cfg.Server.Addr == "" {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") || cfg.Server.BasePath == "" {
				cfg.Server.BasePath = basePath
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret: viper.GetString("jwt-secret"),
				TokenTTL:  cfg.Auth.TokenTTL,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TASKDESK_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: cfg.Server.BasePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taskdesk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

// actingPrincipal resolves --as to a live user row. CLI commands act with
// the same policy rules as the API; there is no implicit superuser.
func actingPrincipal(ctx context.Context, e engine.Engine) (domain.Principal, error) {
	id := strings.TrimSpace(viper.GetString("as"))
	if id == "" {
		return domain.Principal{}, fmt.Errorf("--as <user-id> is required (or TASKDESK_AS)")
	}
	u, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("acting user %s: %w", id, err)
	}
	if u.Status == domain.UserInactive {
		return domain.Principal{}, fmt.Errorf("acting user %s is deactivated", id)
	}
	return domain.Principal{ID: u.ID, Username: u.Username, Fullname: u.Fullname, Role: u.Role}, nil
}

// optionalPrincipal is like actingPrincipal but tolerates a missing --as,
// for commands that work anonymously (registration).
func optionalPrincipal(ctx context.Context, e engine.Engine) (*domain.Principal, error) {
	if strings.TrimSpace(viper.GetString("as")) == "" {
		return nil, nil
	}
	p, err := actingPrincipal(ctx, e)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func printTaskViews(views []domain.TaskView) error {
	if viper.GetBool("json") {
		return printJSON(views)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assigned To", "Created By", "Due"})
	for _, v := range views {
		tw.AppendRow(table.Row{v.ID, v.Title, v.Status, orDash(v.AssignedTo), orDash(v.CreatedBy), v.DueDate})
	}
	tw.Render()
	return nil
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
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
