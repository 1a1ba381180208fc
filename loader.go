package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const loadBatchSize = 5000

// Neo4jLoader loads a call graph model into a Neo4j database using batch
// UNWIND queries.
type Neo4jLoader struct {
	driver neo4j.DriverWithContext
	ctx    context.Context
	logger *slog.Logger
}

// NewNeo4jLoader connects to Neo4j and returns a ready-to-use loader.
func NewNeo4jLoader(ctx context.Context, uri, user, password string, logger *slog.Logger) (*Neo4jLoader, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j at %s: %w", uri, err)
	}
	return &Neo4jLoader{driver: driver, ctx: ctx, logger: logger}, nil
}

// Close releases the underlying Neo4j driver resources.
func (l *Neo4jLoader) Close() {
	l.driver.Close(l.ctx)
}

// runCypher runs a single Cypher statement with optional parameters.
func (l *Neo4jLoader) runCypher(cypher string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(l.ctx, l.driver, cypher, params, neo4j.EagerResultTransformer)
	return err
}

// runBatched runs cypher once per batch of rows, bound to $batch.
func (l *Neo4jLoader) runBatched(cypher string, rows []map[string]any) error {
	for start := 0; start < len(rows); start += loadBatchSize {
		end := min(start+loadBatchSize, len(rows))
		if err := l.runCypher(cypher, map[string]any{"batch": rows[start:end]}); err != nil {
			return err
		}
	}
	return nil
}

// CleanGraph removes all previously loaded call graph nodes and relationships.
func (l *Neo4jLoader) CleanGraph() error {
	l.logger.Info("cleaning existing call graph data")
	queries := []string{
		"MATCH ()-[r:CALLS]->() DELETE r",
		"MATCH ()-[r:IN_PACKAGE]->() DELETE r",
		"MATCH (n:CGNode) DETACH DELETE n",
		"MATCH (n:CGPackage) DETACH DELETE n",
	}
	for _, q := range queries {
		if err := l.runCypher(q, nil); err != nil {
			return err
		}
	}
	return nil
}

// CreateIndexes ensures the required Neo4j indexes exist.
func (l *Neo4jLoader) CreateIndexes() error {
	indexes := []string{
		"CREATE INDEX cg_pkg_path IF NOT EXISTS FOR (n:CGPackage) ON (n.import_path)",
		"CREATE INDEX cg_node_id IF NOT EXISTS FOR (n:CGNode) ON (n.node_id)",
		"CREATE INDEX cg_node_fullname IF NOT EXISTS FOR (n:CGNode) ON (n.full_name)",
	}
	for _, q := range indexes {
		if err := l.runCypher(q, nil); err != nil {
			return err
		}
	}
	return nil
}

// LoadPackages upserts CGPackage nodes.
func (l *Neo4jLoader) LoadPackages(pkgs map[string]*PackageNode) error {
	l.logger.Info("loading packages", "count", len(pkgs))
	batch := make([]map[string]any, 0, len(pkgs))
	for _, p := range pkgs {
		batch = append(batch, map[string]any{
			"path": p.ImportPath,
			"name": p.Name,
			"dir":  p.Dir,
		})
	}
	return l.runBatched(
		`UNWIND $batch AS row
		 MERGE (n:CGPackage {import_path: row.path})
		 SET n.name = row.name, n.dir = row.dir`,
		batch,
	)
}

// LoadNodes upserts CGNode nodes and links them to their packages.
func (l *Neo4jLoader) LoadNodes(funcs []*FuncNode) error {
	l.logger.Info("loading call graph nodes", "count", len(funcs))
	batch := make([]map[string]any, 0, len(funcs))
	for _, fn := range funcs {
		batch = append(batch, map[string]any{
			"id": fn.ID, "fullname": fn.FullName, "name": fn.Name, "pkg": fn.Package,
			"file": fn.File, "line": fn.Line, "context": fn.Context,
			"loader": fn.Loader, "kind": fn.Kind,
			"entrypoint": fn.Entrypoint, "kept": fn.Kept,
		})
	}
	return l.runBatched(
		`UNWIND $batch AS row
		 MERGE (n:CGNode {node_id: row.id})
		 SET n.full_name = row.fullname, n.name = row.name, n.package = row.pkg,
		     n.file = row.file, n.line = row.line, n.context = row.context,
		     n.loader = row.loader, n.kind = row.kind,
		     n.entrypoint = row.entrypoint, n.kept = row.kept
		 WITH n, row
		 MATCH (p:CGPackage {import_path: row.pkg})
		 MERGE (n)-[:IN_PACKAGE]->(p)`,
		batch,
	)
}

// LoadCalls upserts CALLS relationships between CGNode nodes.
func (l *Neo4jLoader) LoadCalls(calls []CallEdge) error {
	l.logger.Info("loading call edges", "count", len(calls))
	batch := make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		batch = append(batch, map[string]any{
			"caller":  c.CallerID,
			"callee":  c.CalleeID,
			"sites":   c.Sites,
			"dynamic": c.IsDynamic,
			"site":    c.Site,
			"kept":    c.Kept,
		})
	}
	return l.runBatched(
		`UNWIND $batch AS row
		 MATCH (caller:CGNode {node_id: row.caller}), (callee:CGNode {node_id: row.callee})
		 MERGE (caller)-[r:CALLS]->(callee)
		 SET r.sites = row.sites, r.is_dynamic = row.dynamic, r.site = row.site,
		     r.kept = row.kept`,
		batch,
	)
}

// LoadModel loads the packages and the model in dependency order.
func (l *Neo4jLoader) LoadModel(pkgs map[string]*PackageNode, m *Model) error {
	if err := l.CreateIndexes(); err != nil {
		return err
	}
	if err := l.LoadPackages(pkgs); err != nil {
		return err
	}
	if err := l.LoadNodes(m.Funcs); err != nil {
		return err
	}
	return l.LoadCalls(m.Calls)
}
