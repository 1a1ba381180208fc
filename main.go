package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"go-callgraph-refine/callgraph"
	"go-callgraph-refine/internal/config"
	"go-callgraph-refine/snapshot"
)

var (
	rootCmd = &cobra.Command{
		Use:               "cgrefine",
		Short:             "Build, refine and prune call graphs of Go modules",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	configPath  string
	dirFlag     string
	verbose     bool
	metricsAddr string

	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cgrefine.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "Project root directory (overrides project.root)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")

	exportCmd.Flags().Bool("clean", false, "Clean existing call graph data before loading")
	snapshotCmd.Flags().String("label", "", "Label stored with the snapshot")
	snapshotCmd.Flags().Bool("full", false, "Store the unpruned CHA graph instead of the pruned view")

	snapshotsCmd.AddCommand(snapshotsShowCmd, snapshotsDeleteCmd)
	rootCmd.AddCommand(buildCmd, exportCmd, snapshotCmd, snapshotsCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dirFlag != "" {
		cfg.Project.Root = dirFlag
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger = newLogger(os.Stderr, verbose)
	slog.SetDefault(logger)

	if cfg.Metrics.Addr != "" {
		serveMetrics(cmd.Context(), cfg.Metrics.Addr)
	}
	return nil
}

// newLogger returns a text handler for terminals and a JSON handler
// otherwise.
func newLogger(w *os.File, debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build, refine and prune the call graph and print a report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := runAnalysis(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), a)
		return nil
	},
}

func printReport(w io.Writer, a *Analysis) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "module\t%s\n", a.Collector.RootModule)
	fmt.Fprintf(tw, "entrypoints\t%d\n", len(a.Graph.EntrypointNodes()))
	fmt.Fprintf(tw, "nodes\t%d\n", a.Graph.NodeCount())
	fmt.Fprintf(tw, "edges\t%d\n", a.Graph.EdgeCount())
	fmt.Fprintf(tw, "refinement\t%s after %d passes (%d sites narrowed)\n",
		a.Outcome.Result, a.Outcome.Passes, a.Refiner.Refined())
	fmt.Fprintf(tw, "kept nodes\t%d\n", a.View.NodeCount())
	fmt.Fprintf(tw, "kept edges\t%d\n", callgraph.CountEdges(a.View))
	fmt.Fprintf(tw, "elapsed\t%s\n", a.Elapsed.Round(time.Millisecond))
	tw.Flush()
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Load the call graph into Neo4j",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Neo4j.Password == "" {
			return fmt.Errorf("neo4j password is required (neo4j.password or CGREFINE_NEO4J_PASS)")
		}
		ctx := cmd.Context()
		a, err := runAnalysis(ctx, cfg, logger)
		if err != nil {
			return err
		}
		model := BuildModel(a.Graph, a.View, a.Collector)

		loader, err := NewNeo4jLoader(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, logger)
		if err != nil {
			return err
		}
		defer loader.Close()

		if clean, _ := cmd.Flags().GetBool("clean"); clean {
			if err := loader.CleanGraph(); err != nil {
				return err
			}
		}
		if err := loader.LoadModel(a.Collector.Packages, model); err != nil {
			return err
		}

		nodes, edges := model.Kept()
		logger.Info("graph loaded into neo4j",
			"nodes", len(model.Funcs), "edges", len(model.Calls),
			"kept_nodes", nodes, "kept_edges", edges)

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Useful Cypher queries:")
		fmt.Fprintln(out, "  // Pruned, refined application call graph")
		fmt.Fprintln(out, "  MATCH (a:CGNode {kept: true})-[r:CALLS {kept: true}]->(b) RETURN a.full_name, b.full_name, r.site")
		fmt.Fprintln(out, "  // Interface and function value calls removed by refinement")
		fmt.Fprintln(out, "  MATCH (a:CGNode {kept: true})-[r:CALLS {kept: false, is_dynamic: true}]->(b:CGNode {kept: true}) RETURN a.full_name, b.full_name")
		fmt.Fprintln(out, "  // Entrypoints")
		fmt.Fprintln(out, "  MATCH (n:CGNode {entrypoint: true}) RETURN n.full_name")
		return nil
	},
}

func openSnapshots() (*snapshot.Manager, func(), error) {
	db, err := badger.Open(badger.DefaultOptions(cfg.Snapshot.DB).WithLogger(nil))
	if err != nil {
		return nil, nil, fmt.Errorf("opening snapshot store %s: %w", cfg.Snapshot.DB, err)
	}
	m, err := snapshot.NewManager(db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return m, func() { db.Close() }, nil
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Build the call graph and store it as a snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := runAnalysis(ctx, cfg, logger)
		if err != nil {
			return err
		}
		m, closeDB, err := openSnapshots()
		if err != nil {
			return err
		}
		defer closeDB()

		var g callgraph.Graph = a.View
		if full, _ := cmd.Flags().GetBool("full"); full {
			g = a.Graph
		}
		label, _ := cmd.Flags().GetString("label")
		meta, err := m.Save(ctx, g, a.Collector.Dir, label)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), meta.ID)
		return nil
	},
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, closeDB, err := openSnapshots()
		if err != nil {
			return err
		}
		defer closeDB()

		list, err := m.List(cmd.Context())
		if err != nil {
			return err
		}
		printSnapshots(cmd.OutOrStdout(), list)
		return nil
	},
}

func printSnapshots(w io.Writer, list []*snapshot.Metadata) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tLABEL\tNODES\tEDGES\tROOT")
	for _, meta := range list {
		created := time.UnixMilli(meta.CreatedAtMilli).Format(time.RFC3339)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			meta.ID, created, meta.Label, meta.NodeCount, meta.EdgeCount, meta.ProjectRoot)
	}
	tw.Flush()
}

var snapshotsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Load a snapshot and print its entrypoints and edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeDB, err := openSnapshots()
		if err != nil {
			return err
		}
		defer closeDB()

		g, meta, err := m.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printSnapshots(out, []*snapshot.Metadata{meta})
		for _, n := range g.EntrypointNodes() {
			fmt.Fprintf(out, "entrypoint %s\n", n.Unit)
		}
		return callgraph.VisitEdges(g, func(src, dst *callgraph.Node) error {
			_, err := fmt.Fprintf(out, "%s -> %s\n", src.Unit, dst.Unit)
			return err
		})
	},
}

var snapshotsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeDB, err := openSnapshots()
		if err != nil {
			return err
		}
		defer closeDB()
		return m.Delete(cmd.Context(), args[0])
	},
}
