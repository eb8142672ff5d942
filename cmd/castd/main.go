package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"castd/internal/config"
	"castd/internal/cycle"
	"castd/internal/db"
	"castd/internal/domain"
	"castd/internal/events"
	"castd/internal/executor"
	"castd/internal/intel"
	"castd/internal/ledger"
	"castd/internal/migrate"
	"castd/internal/repo"
	"castd/internal/rng"
	"castd/internal/server"
	"castd/internal/strategy"
	"castd/internal/tracker"
)

var rootCmd = &cobra.Command{
	Use:   "castd",
	Short: "CAST control loop daemon",
	Long: `castd runs a durable strategy control loop over external domains:
- Collect: fetch recent posts per domain and classify them into signals.
- Analyze: evaluate action rules and generate candidate strategies.
- Select: rank active strategies and pick the top ones.
- Transact: execute actions with ledgered side effects.
- Track: snapshot portfolio value and compute ROI per domain.
All state lives in the .castd workspace database.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASTD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("feed", "", "path to a JSON feed fixture")
	rootCmd.PersistentFlags().Int64("seed", 0, "seed for outcome draws (0 = time-based)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("feed", rootCmd.PersistentFlags().Lookup("feed"))
	_ = viper.BindPFlag("seed", rootCmd.PersistentFlags().Lookup("seed"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(signalCmd())
	rootCmd.AddCommand(resourceCmd())
	rootCmd.AddCommand(strategyCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(txCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(perfCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a castd workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote default config to %s\n", cfgPath)
			} else {
				fmt.Printf("Config %s already exists, keeping it\n", cfgPath)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				if err := a.orch.Bootstrap(ctx); err != nil {
					return err
				}
				fmt.Printf("Workspace initialized at %s\n", db.Path(workspace))
				return nil
			})
		},
	}
}

func cycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run control cycles",
	}
	cmd.AddCommand(cycleRunCmd())
	cmd.AddCommand(cycleAutoCmd())
	return cmd
}

func cycleRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one control cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				if err := a.orch.Bootstrap(ctx); err != nil {
					return err
				}
				result, err := a.orch.Run(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
}

func cycleAutoCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Run cycles on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				if err := a.orch.Bootstrap(ctx); err != nil {
					return err
				}
				if interval <= 0 {
					interval = a.cfg.Interval()
				}
				fmt.Printf("Running auto-cycles every %s (Ctrl-C to stop)\n", interval)
				err := a.orch.RunAuto(ctx, interval)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "cycle interval (default from config)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show controller status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				overall, err := a.trk.Overall(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"status":      a.orch.Status(),
					"performance": overall,
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func reportCmd() *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the markdown performance report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				if save {
					path, err := a.trk.SaveReport(ctx, a.stateDir)
					if err != nil {
						return err
					}
					fmt.Printf("Report saved to %s\n", path)
					return nil
				}
				report, err := a.trk.Report(ctx)
				if err != nil {
					return err
				}
				fmt.Print(report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "write the report into the workspace")
	return cmd
}

func signalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "signal", Short: "Inspect collected signals"}
	cmd.AddCommand(signalListCmd())
	return cmd
}

func signalListCmd() *cobra.Command {
	var domainID string
	var days int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent signals for a domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				since := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour).Format(time.RFC3339)
				signals, err := a.repo.ListSignals(ctx, domainID, since)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(signals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "Relevance", "Source", "TS", "Description"})
				for _, s := range signals {
					desc := s.Description
					if len(desc) > 60 {
						desc = desc[:57] + "..."
					}
					tw.AppendRow(table.Row{s.Kind, fmt.Sprintf("%.1f", s.Relevance), s.Source, s.TS, desc})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&domainID, "domain", "", "domain id")
	cmd.Flags().IntVar(&days, "days", 7, "lookback window in days")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func resourceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "resource", Short: "Inspect tracked resources"}
	cmd.AddCommand(resourceListCmd())
	return cmd
}

func resourceListCmd() *cobra.Command {
	var domainID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked resources for a domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				resources, err := a.repo.ListResources(ctx, domainID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(resources)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Resource", "Name", "Type", "Last Price"})
				for _, r := range resources {
					price := "-"
					if r.LastPrice != nil {
						price = fmt.Sprintf("%.4f", *r.LastPrice)
					}
					tw.AppendRow(table.Row{r.ResourceID, r.Name, r.Type, price})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&domainID, "domain", "", "domain id")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func strategyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "strategy", Short: "Inspect strategies"}
	cmd.AddCommand(strategyListCmd())
	cmd.AddCommand(strategyShowCmd())
	return cmd
}

func strategyListCmd() *cobra.Command {
	var domainID string
	var active bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				var (
					list []domain.Strategy
					err  error
				)
				switch {
				case domainID != "":
					list, err = a.repo.ListStrategiesByDomain(ctx, domainID)
				case active:
					list, err = a.repo.ListActiveStrategies(ctx)
				default:
					list, err = a.repo.ListStrategies(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Domain", "ROI", "Status", "Last Perf"})
				for _, s := range list {
					perf := "-"
					if s.LastPerformance != nil {
						perf = fmt.Sprintf("%.1f%%", *s.LastPerformance)
					}
					tw.AppendRow(table.Row{s.ID[:8], s.Name, s.Domain, fmt.Sprintf("%.0f%%", s.EstimatedROI), s.Status, perf})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&domainID, "domain", "", "filter by domain")
	cmd.Flags().BoolVar(&active, "active", false, "only active strategies")
	return cmd
}

func strategyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <strategy-id>",
		Short: "Show one strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				s, err := a.repo.GetStrategy(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "Inspect the wallet and inventory"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show balance, inventory, and portfolio value",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				balance, err := a.repo.GetBalance(ctx)
				if err != nil {
					return err
				}
				value, err := a.repo.PortfolioValue(ctx)
				if err != nil {
					return err
				}
				inventory, err := a.repo.ListInventory(ctx, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"balance":         balance,
						"portfolio_value": value,
						"inventory":       inventory,
					})
				}
				fmt.Printf("Balance: %.4f APT\nPortfolio value: %.4f APT\n", balance, value)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Domain", "Resource", "Qty", "Unit Value", "Acquired At"})
				for _, it := range inventory {
					tw.AppendRow(table.Row{it.Domain, it.ResourceID, it.Quantity, fmt.Sprintf("%.4f", it.LastKnownValue), it.AcquisitionDate})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func txCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tx", Short: "Inspect transactions"}
	var n int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				txs, err := a.repo.ListRecentTransactions(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(txs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Domain", "Action", "Value", "Status", "TS"})
				for _, t := range txs {
					tw.AppendRow(table.Row{t.ID[:8], t.Domain, t.ActionType, fmt.Sprintf("%+.4f", t.Value), t.Status, t.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&n, "n", 20, "number of transactions")
	cmd.AddCommand(list)
	return cmd
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "snapshot", Short: "Inspect performance snapshots"}
	var n int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				snaps, err := a.repo.ListRecentSnapshots(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(snaps)
			})
		},
	}
	list.Flags().IntVar(&n, "n", 20, "number of snapshots")
	cmd.AddCommand(list)
	return cmd
}

func perfCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "perf", Short: "Inspect performance"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Overall and per-domain performance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				overall, err := a.trk.Overall(ctx)
				if err != nil {
					return err
				}
				perfs, err := a.repo.ListDomainPerf(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"overall": overall, "domains": perfs})
			})
		},
	})
	var days int
	trend := &cobra.Command{
		Use:   "trend",
		Short: "Portfolio value trend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				points, err := a.trk.Trend(ctx, days)
				if err != nil {
					return err
				}
				return printJSONOrTable(points)
			})
		},
	}
	trend.Flags().IntVar(&days, "days", 7, "trailing window in days")
	cmd.AddCommand(trend)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the audit log"}
	var n int
	var evtType, entityKind string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				evts, err := a.repo.LatestEvents(ctx, n, evtType, entityKind)
				if err != nil {
					return err
				}
				return printJSONOrTable(evts)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.AddCommand(tail)
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				if err := a.orch.Bootstrap(ctx); err != nil {
					return err
				}
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("CASTD_JWT_SECRET")}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("CASTD_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Orchestrator: a.orch,
					Tracker:      a.trk,
					Repo:         a.repo,
					BasePath:     basePath,
					Auth:         authCfg,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving castd API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
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

type app struct {
	conn     *sql.DB
	cfg      *config.Config
	repo     repo.Repo
	orch     *cycle.Orchestrator
	trk      tracker.Tracker
	stateDir string
}

func withApp(ctx context.Context, fn func(context.Context, app) error) error {
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
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	a, err := buildApp(conn, cfg, workspace)
	if err != nil {
		return err
	}
	return fn(ctx, a)
}

// buildApp wires the control loop from its parts. The feed and seed come
// from flags: without a feed fixture the collector gathers nothing new and
// cycles run against stored signals.
func buildApp(conn *sql.DB, cfg *config.Config, workspace string) (app, error) {
	r := repo.Repo{DB: conn}
	ev := events.Writer{DB: conn, Now: time.Now}
	led := ledger.Ledger{}

	var feed intel.Feed = intel.EmptyFeed{}
	if path := viper.GetString("feed"); path != "" {
		f, err := intel.NewFileFeed(path)
		if err != nil {
			return app{}, err
		}
		feed = f
	}
	seed := viper.GetInt64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rand := rng.NewSeeded(seed)

	stateDir := filepath.Join(workspace, ".castd")
	orch := &cycle.Orchestrator{
		DB:     conn,
		Repo:   r,
		Ledger: led,
		Events: ev,
		Config: cfg,
		Collector: intel.Collector{
			DB:     conn,
			Repo:   r,
			Events: ev,
			Feed:   feed,
			Now:    time.Now,
		},
		Generator: strategy.Generator{
			DB:     conn,
			Repo:   r,
			Events: ev,
			Rand:   rand,
			Rules:  cfg.Rules,
			Dedupe: cfg.Strategies.Dedupe,
			Now:    time.Now,
		},
		Executor: executor.Executor{
			DB:       conn,
			Repo:     r,
			Ledger:   led,
			Events:   ev,
			Boundary: executor.SimBoundary{},
			Rand:     rand,
			Tuning:   cfg.Tuning(),
			Now:      time.Now,
		},
		Tracker: tracker.Tracker{
			DB:     conn,
			Repo:   r,
			Events: ev,
			Now:    time.Now,
		},
		ReportDir: stateDir,
		Now:       time.Now,
	}
	return app{
		conn:     conn,
		cfg:      cfg,
		repo:     r,
		orch:     orch,
		trk:      orch.Tracker,
		stateDir: stateDir,
	}, nil
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
