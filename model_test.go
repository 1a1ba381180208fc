package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/container/intsets"

	"go-callgraph-refine/callgraph"
	"go-callgraph-refine/prune"
	"go-callgraph-refine/snapshot"
)

type fakeDescriber struct{}

func (fakeDescriber) Describe(u callgraph.CodeUnit) UnitInfo {
	ref := u.Ref()
	loader := callgraph.LoaderPrimordial
	if ref.Class == "app" {
		loader = callgraph.LoaderApplication
	}
	return UnitInfo{Name: ref.Name, FullName: ref.Class + "." + ref.Name, Package: ref.Class, Loader: loader}
}

func (fakeDescriber) SiteLabel(n *callgraph.Node, site callgraph.CallSite) string {
	return fmt.Sprintf("%s@%d", n.Unit.Ref().Name, site.PC)
}

func unit(class, name string) callgraph.Unit {
	return callgraph.NewUnit(callgraph.MethodRef{Class: class, Name: name, Signature: "()"})
}

func TestBuildModel(t *testing.T) {
	g := callgraph.NewExplicit()
	main, _ := g.FindOrCreateNode(unit("app", "main"), callgraph.Everywhere)
	run, _ := g.FindOrCreateNode(unit("app", "run"), callgraph.Everywhere)
	lib, _ := g.FindOrCreateNode(unit("lib", "helper"), callgraph.Everywhere)

	require.NoError(t, g.AddCall(g.FakeRoot(), callgraph.CallSite{Kind: callgraph.DispatchSpecial, Target: main.Unit.Ref()}, main))
	require.NoError(t, g.RegisterEntrypoint(main))
	iface := callgraph.CallSite{PC: 2, Kind: callgraph.DispatchInterface, Target: callgraph.MethodRef{Class: "app.Runner", Name: "Run"}}
	require.NoError(t, g.AddCall(main, iface, run))
	require.NoError(t, g.AddCall(main, callgraph.CallSite{PC: 5, Kind: callgraph.DispatchStatic, Target: lib.Unit.Ref()}, lib))
	require.NoError(t, g.AddCall(main, callgraph.CallSite{PC: 1, Kind: callgraph.DispatchStatic, Target: lib.Unit.Ref()}, lib))

	keep := new(intsets.Sparse)
	for _, n := range []*callgraph.Node{g.FakeRoot(), main, run} {
		keep.Insert(n.ID)
	}
	hidden := map[int]*intsets.Sparse{main.ID: new(intsets.Sparse)}
	hidden[main.ID].Insert(run.ID)
	view := prune.NewView(g, keep, hidden)

	m := BuildModel(g, view, fakeDescriber{})
	require.Len(t, m.Funcs, 5)
	require.Len(t, m.Calls, 3)

	byID := make(map[int]*FuncNode)
	for _, f := range m.Funcs {
		byID[f.ID] = f
	}
	assert.True(t, byID[main.ID].Entrypoint)
	assert.True(t, byID[main.ID].Kept)
	assert.Equal(t, "app.main", byID[main.ID].FullName)
	assert.Equal(t, "Application", byID[main.ID].Loader)
	assert.Equal(t, "ordinary", byID[main.ID].Kind)
	assert.False(t, byID[lib.ID].Kept)
	assert.Equal(t, "fake_root", byID[g.FakeRoot().ID].Kind)

	calls := make(map[[2]int]CallEdge)
	for _, c := range m.Calls {
		calls[[2]int{c.CallerID, c.CalleeID}] = c
	}
	toRun := calls[[2]int{main.ID, run.ID}]
	assert.True(t, toRun.IsDynamic)
	assert.False(t, toRun.Kept, "hidden by refinement")
	assert.Equal(t, "main@2", toRun.Site)

	toLib := calls[[2]int{main.ID, lib.ID}]
	assert.Equal(t, 2, toLib.Sites)
	assert.False(t, toLib.IsDynamic)
	assert.Equal(t, "main@1", toLib.Site, "lowest site labels the edge")

	assert.True(t, calls[[2]int{g.FakeRoot().ID, main.ID}].Kept)

	nodes, edges := m.Kept()
	assert.Equal(t, 3, nodes)
	assert.Equal(t, 1, edges)
}

func TestDetectModulePath(t *testing.T) {
	dir := t.TempDir()
	_, err := detectModulePath(dir)
	assert.ErrorContains(t, err, "cannot read go.mod")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("// header\nmodule \"example.com/svc\"\n\ngo 1.23\n"), 0o600))
	path, err := detectModulePath(dir)
	require.NoError(t, err)
	assert.Equal(t, "example.com/svc", path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("go 1.23\n"), 0o600))
	_, err = detectModulePath(dir)
	assert.ErrorContains(t, err, "module directive not found")
}

func TestCollectorPaths(t *testing.T) {
	c := NewCollector("example.com/svc", "/src/svc", nil)

	assert.True(t, c.isProjectPackage("example.com/svc"))
	assert.True(t, c.isProjectPackage("example.com/svc/internal/db"))
	assert.False(t, c.isProjectPackage("example.com/svcx"))
	assert.False(t, c.isProjectPackage("fmt"))

	assert.Equal(t, "internal/db/db.go", c.relPath("/src/svc/internal/db/db.go"))
	assert.Equal(t, "internal/db", c.relPath("example.com/svc/internal/db"))
	assert.Equal(t, "/usr/lib/go/src/fmt/print.go", c.relPath("/usr/lib/go/src/fmt/print.go"))
}

func TestPrintSnapshots(t *testing.T) {
	var buf bytes.Buffer
	printSnapshots(&buf, []*snapshot.Metadata{
		{ID: "abc", Label: "nightly", NodeCount: 12, EdgeCount: 30, ProjectRoot: "/src/svc"},
	})
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "nightly")
	assert.Contains(t, out, "/src/svc")
}
