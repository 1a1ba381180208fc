package main

import (
	"context"
	"fmt"
	"go/types"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"go-callgraph-refine/callgraph"
	"go-callgraph-refine/gossa"
)

// Collector loads the analysed module, builds it in SSA form and describes
// its functions for export.
type Collector struct {
	RootModule string
	Dir        string

	Packages map[string]*PackageNode
	Program  *gossa.Program

	logger  *slog.Logger
	ssaPkgs []*ssa.Package
}

// NewCollector creates a Collector scoped to the given root module path.
func NewCollector(rootModule, dir string, logger *slog.Logger) *Collector {
	return &Collector{
		RootModule: rootModule,
		Dir:        dir,
		Packages:   make(map[string]*PackageNode),
		logger:     logger,
	}
}

// isProjectPackage reports whether pkgPath belongs to the analysed module.
func (c *Collector) isProjectPackage(pkgPath string) bool {
	return pkgPath == c.RootModule || strings.HasPrefix(pkgPath, c.RootModule+"/")
}

// relPath returns a file or package path relative to the project root.
func (c *Collector) relPath(fullPath string) string {
	if rel, err := filepath.Rel(c.Dir, fullPath); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	if idx := strings.Index(fullPath, c.RootModule); idx >= 0 {
		rest := fullPath[idx+len(c.RootModule):]
		if len(rest) > 0 && rest[0] == '/' {
			return rest[1:]
		}
		return rest
	}
	return fullPath
}

// Load loads the packages matching patterns with their dependencies and
// builds the whole program in SSA form.
func (c *Collector) Load(ctx context.Context, patterns ...string) error {
	cfg := &packages.Config{
		Context: ctx,
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedImports | packages.NeedDeps | packages.NeedTypes |
			packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedTypesSizes,
		Dir: c.Dir,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return fmt.Errorf("loading packages: %w", err)
	}
	if n := packages.PrintErrors(pkgs); n > 0 {
		c.logger.Warn("package errors, continuing anyway", "count", n)
	}

	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		if !c.isProjectPackage(pkg.PkgPath) {
			return
		}
		c.Packages[pkg.PkgPath] = &PackageNode{
			ImportPath: pkg.PkgPath,
			Name:       pkg.Name,
			Dir:        c.relPath(pkg.PkgPath),
		}
	})

	prog, ssaPkgs := ssautil.AllPackages(pkgs, ssa.InstantiateGenerics)
	prog.Build()
	c.ssaPkgs = ssaPkgs
	c.Program = gossa.NewProgram(prog, c.RootModule)

	c.logger.Info("program loaded", "packages", len(pkgs), "project_packages", len(c.Packages))
	return nil
}

// Entrypoints returns main and init of the module's main packages or, for
// a library, every exported function and method of the module.
func (c *Collector) Entrypoints() []callgraph.CodeUnit {
	var built []*ssa.Package
	for _, pkg := range c.ssaPkgs {
		if pkg != nil {
			built = append(built, pkg)
		}
	}

	var fns []*ssa.Function
	for _, pkg := range ssautil.MainPackages(built) {
		if !c.isProjectPackage(pkg.Pkg.Path()) {
			continue
		}
		for _, name := range []string{"main", "init"} {
			if fn := pkg.Func(name); fn != nil {
				fns = append(fns, fn)
			}
		}
	}
	if len(fns) == 0 {
		fns = c.exported()
	}

	out := make([]callgraph.CodeUnit, 0, len(fns))
	for _, fn := range fns {
		out = append(out, c.Program.Unit(fn))
	}
	return out
}

func (c *Collector) exported() []*ssa.Function {
	var fns []*ssa.Function
	for _, pkg := range c.ssaPkgs {
		if pkg == nil || !c.isProjectPackage(pkg.Pkg.Path()) {
			continue
		}
		for _, mem := range pkg.Members {
			switch mem := mem.(type) {
			case *ssa.Function:
				if mem.Object() != nil && mem.Object().Exported() && mem.TypeParams().Len() == 0 {
					fns = append(fns, mem)
				}
			case *ssa.Type:
				named, ok := mem.Type().(*types.Named)
				if !ok || !mem.Object().Exported() || named.TypeParams().Len() > 0 {
					continue
				}
				fns = append(fns, c.declaredMethods(named)...)
			}
		}
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })
	return fns
}

// declaredMethods returns the exported methods declared on named, each
// with its declared receiver and without promoted or wrapper methods.
func (c *Collector) declaredMethods(named *types.Named) []*ssa.Function {
	prog := c.Program.SSA()
	var fns []*ssa.Function
	for i := 0; i < named.NumMethods(); i++ {
		m := named.Method(i)
		if !m.Exported() {
			continue
		}
		if fn := prog.FuncValue(m); fn != nil {
			fns = append(fns, fn)
		}
	}
	return fns
}

// Describe implements Describer.
func (c *Collector) Describe(u callgraph.CodeUnit) UnitInfo {
	info := UnitInfo{
		Name:     u.Ref().Name,
		FullName: u.String(),
		Package:  c.Program.Package(u),
		Loader:   c.Program.DeclaringLoader(u),
	}
	if fn, ok := gossa.Func(u); ok {
		info.Name = fn.Name()
		info.FullName = buildSSAFuncName(fn)
		pos := c.Program.Position(u)
		info.File = c.relPath(pos.Filename)
		info.Line = pos.Line
	}
	return info
}

// SiteLabel implements Describer.
func (c *Collector) SiteLabel(n *callgraph.Node, site callgraph.CallSite) string {
	pos := c.Program.SitePosition(n.Unit, site.PC)
	if !pos.IsValid() {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.relPath(pos.Filename), pos.Line)
}

// buildSSAFuncName derives a full name for an SSA function:
// package.Type.Method for methods and package.Func otherwise.
func buildSSAFuncName(fn *ssa.Function) string {
	if fn.Pkg == nil {
		return fn.String()
	}
	pkgPath := fn.Pkg.Pkg.Path()

	// Method: (*Type).Method or Type.Method
	if recv := fn.Signature.Recv(); recv != nil {
		recvType := recv.Type()
		if ptr, ok := recvType.(*types.Pointer); ok {
			recvType = ptr.Elem()
		}
		if named, ok := recvType.(*types.Named); ok {
			return pkgPath + "." + named.Obj().Name() + "." + fn.Name()
		}
	}
	return pkgPath + "." + fn.Name()
}
