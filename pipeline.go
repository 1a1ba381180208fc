package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/mod/modfile"
	"golang.org/x/tools/container/intsets"

	"go-callgraph-refine/callgraph"
	"go-callgraph-refine/callgraph/cha"
	"go-callgraph-refine/gossa"
	"go-callgraph-refine/internal/config"
	"go-callgraph-refine/prune"
	"go-callgraph-refine/refine"
)

// Analysis is the result of one run of the pipeline over a module.
type Analysis struct {
	Collector *Collector
	Graph     *callgraph.Explicit
	Refiner   *gossa.Refiner
	Outcome   refine.Outcome
	Keep      *intsets.Sparse
	View      *prune.View
	Elapsed   time.Duration
}

// runAnalysis loads the module at cfg.Project.Root, builds its CHA call
// graph, refines its dispatching sites and prunes it to the application.
func runAnalysis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Analysis, error) {
	start := time.Now()
	absDir, err := filepath.Abs(cfg.Project.Root)
	if err != nil {
		return nil, err
	}
	modulePath, err := detectModulePath(absDir)
	if err != nil {
		return nil, fmt.Errorf("cannot detect Go module: %w", err)
	}
	logger.Info("analysing module", "module", modulePath, "dir", absDir)

	collector := NewCollector(modulePath, absDir, logger)
	if err := collector.Load(ctx, "./..."); err != nil {
		return nil, err
	}
	prog := collector.Program

	entrypoints := collector.Entrypoints()
	if len(entrypoints) == 0 {
		return nil, fmt.Errorf("no entrypoints found in %s", modulePath)
	}

	builder := cha.NewBuilder(prog, prog,
		cha.WithApplicationOnly(cfg.Analysis.ApplicationOnly),
		cha.WithLogger(logger))
	g, err := builder.Build(ctx, entrypoints)
	if err != nil {
		return nil, err
	}
	g.Freeze()

	rc := cfg.Analysis.Refine
	factory, err := refine.ByName(rc.Policy, prog, rc.Include, rc.Exclude)
	if err != nil {
		return nil, err
	}
	policy := factory()
	refiner := gossa.NewRefiner(prog, g, policy, logger)
	outcome, err := refine.Run(ctx, policy, refiner.Query)
	if err != nil {
		return nil, err
	}

	overlay := refiner.Overlay()
	refined := prune.Refined(g, overlay)
	keep, err := prune.FindApplicationNodes(ctx, refined, prune.ApplicationLoader{Loaders: prog}, cfg.Analysis.PruneDepth)
	if err != nil {
		return nil, err
	}

	return &Analysis{
		Collector: collector,
		Graph:     g,
		Refiner:   refiner,
		Outcome:   outcome,
		Keep:      keep,
		View:      prune.NewView(g, keep, overlay),
		Elapsed:   time.Since(start),
	}, nil
}

// detectModulePath reads the go.mod file in dir and returns the module path.
func detectModulePath(dir string) (string, error) {
	gomod := filepath.Join(dir, "go.mod")
	data, err := os.ReadFile(gomod)
	if err != nil {
		return "", fmt.Errorf("cannot read go.mod: %w", err)
	}
	path := modfile.ModulePath(data)
	if path == "" {
		return "", fmt.Errorf("module directive not found in go.mod")
	}
	return path, nil
}
