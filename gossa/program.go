// Package gossa presents a Go program in SSA form as a class hierarchy and
// call site interpreter for the closure builder, and refines its call graph
// with variable type analysis.
//
// Go has no classes. A method's class is its receiver type and a function's
// class is its package; the package initializer plays the role of the
// static initializer. Interface method calls dispatch over every named
// concrete type T or *T that implements the interface, and calls of
// function values dispatch over every function with an identical
// signature.
package gossa

import (
	"go/token"
	"go/types"
	"sort"
	"strings"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
	"golang.org/x/tools/go/types/typeutil"

	"go-callgraph-refine/callgraph"
)

// Unit is a CodeUnit backed by an SSA function.
type Unit struct {
	fn  *ssa.Function
	ref callgraph.MethodRef
}

func (u Unit) Func() *ssa.Function      { return u.fn }
func (u Unit) Ref() callgraph.MethodRef { return u.ref }
func (u Unit) String() string           { return u.fn.String() }

type ifaceMethod struct {
	iface  *types.Interface
	method *types.Func
}

// Program is the hierarchy and interpreter of one SSA program.
type Program struct {
	prog       *ssa.Program
	rootModule string

	units    map[*ssa.Function]Unit
	refs     map[callgraph.MethodRef]*ssa.Function
	bySig    typeutil.Map // *types.Signature -> []*ssa.Function
	ifaces   map[callgraph.MethodRef]ifaceMethod
	valueSig map[callgraph.MethodRef]*types.Signature
	concrete []types.Type
	named    map[string]types.Type
	sites    map[*ssa.Function][]siteInstr
	virtual  map[callgraph.MethodRef][]callgraph.CodeUnit
}

// NewProgram indexes every function of prog. Packages whose path is
// rootModule or below it belong to the application loader.
func NewProgram(prog *ssa.Program, rootModule string) *Program {
	p := &Program{
		prog:       prog,
		rootModule: rootModule,
		units:      make(map[*ssa.Function]Unit),
		refs:       make(map[callgraph.MethodRef]*ssa.Function),
		ifaces:     make(map[callgraph.MethodRef]ifaceMethod),
		valueSig:   make(map[callgraph.MethodRef]*types.Signature),
		named:      make(map[string]types.Type),
		sites:      make(map[*ssa.Function][]siteInstr),
		virtual:    make(map[callgraph.MethodRef][]callgraph.CodeUnit),
	}

	all := ssautil.AllFunctions(prog)
	fns := make([]*ssa.Function, 0, len(all))
	for fn := range all {
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })
	for _, fn := range fns {
		p.unit(fn)
	}

	for _, pkg := range prog.AllPackages() {
		for _, mem := range pkg.Members {
			t, ok := mem.(*ssa.Type)
			if !ok {
				continue
			}
			typ := t.Type()
			p.named[types.TypeString(typ, nil)] = typ
			if n, ok := typ.(*types.Named); ok && n.TypeParams().Len() > 0 {
				continue
			}
			if !types.IsInterface(typ) {
				p.concrete = append(p.concrete, typ)
			}
		}
	}
	sort.Slice(p.concrete, func(i, j int) bool {
		return types.TypeString(p.concrete[i], nil) < types.TypeString(p.concrete[j], nil)
	})
	return p
}

// SSA returns the underlying program.
func (p *Program) SSA() *ssa.Program { return p.prog }

// unit returns the unit of fn, indexing fn on first use.
func (p *Program) unit(fn *ssa.Function) Unit {
	if u, ok := p.units[fn]; ok {
		return u
	}
	ref := callgraph.MethodRef{Class: classOf(fn), Name: fn.Name(), Signature: fn.Signature.String()}
	if other, taken := p.refs[ref]; taken && other != fn {
		ref.Name = fn.String()
	}
	u := Unit{fn: fn, ref: ref}
	p.units[fn] = u
	p.refs[ref] = fn
	if fn.Signature.Recv() == nil {
		fns, _ := p.bySig.At(fn.Signature).([]*ssa.Function)
		p.bySig.Set(fn.Signature, append(fns, fn))
	}
	return u
}

// Unit returns the unit of fn.
func (p *Program) Unit(fn *ssa.Function) Unit { return p.unit(fn) }

// Func returns the function a unit of this program stands for.
func Func(u callgraph.CodeUnit) (*ssa.Function, bool) {
	su, ok := u.(Unit)
	if !ok || su.fn == nil {
		return nil, false
	}
	return su.fn, true
}

func classOf(fn *ssa.Function) string {
	if recv := fn.Signature.Recv(); recv != nil {
		return types.TypeString(recv.Type(), nil)
	}
	return pkgPathOf(fn)
}

func pkgPathOf(fn *ssa.Function) string {
	if fn.Pkg != nil {
		return fn.Pkg.Pkg.Path()
	}
	if obj := fn.Object(); obj != nil && obj.Pkg() != nil {
		return obj.Pkg().Path()
	}
	if o := fn.Origin(); o != nil && o != fn {
		return pkgPathOf(o)
	}
	return ""
}

// isProjectPackage reports whether pkgPath belongs to the analysed module.
func (p *Program) isProjectPackage(pkgPath string) bool {
	return pkgPath == p.rootModule || strings.HasPrefix(pkgPath, p.rootModule+"/")
}

// Package returns the import path of the package that declares u.
func (p *Program) Package(u callgraph.CodeUnit) string {
	if fn, ok := Func(u); ok {
		return pkgPathOf(fn)
	}
	return u.Ref().Class
}

// Position returns the source position of u, if known.
func (p *Program) Position(u callgraph.CodeUnit) token.Position {
	fn, ok := Func(u)
	if !ok {
		return token.Position{}
	}
	return p.prog.Fset.Position(fn.Pos())
}

func (p *Program) ResolveSingle(target callgraph.MethodRef) (callgraph.CodeUnit, bool) {
	fn, ok := p.refs[target]
	if !ok {
		return nil, false
	}
	return p.unit(fn), true
}

// ResolveVirtual returns the methods of every concrete type implementing
// the interface of an interface target, or every function whose signature
// is identical to a function-value target.
func (p *Program) ResolveVirtual(target callgraph.MethodRef) []callgraph.CodeUnit {
	if us, ok := p.virtual[target]; ok {
		return us
	}
	var fns []*ssa.Function
	if im, ok := p.ifaces[target]; ok {
		fns = p.implementations(im)
	} else if sig, ok := p.valueSig[target]; ok {
		fns, _ = p.bySig.At(sig).([]*ssa.Function)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })

	us := make([]callgraph.CodeUnit, 0, len(fns))
	for _, fn := range fns {
		us = append(us, p.unit(fn))
	}
	p.virtual[target] = us
	return us
}

func (p *Program) implementations(im ifaceMethod) []*ssa.Function {
	var out []*ssa.Function
	for _, t := range p.concrete {
		// Check T implements I, then *T implements I.
		recv := t
		if !types.Implements(recv, im.iface) {
			recv = types.NewPointer(t)
			if !types.Implements(recv, im.iface) {
				continue
			}
		}
		sel := p.prog.MethodSets.MethodSet(recv).Lookup(im.method.Pkg(), im.method.Name())
		if sel == nil {
			continue
		}
		if fn := p.prog.MethodValue(sel); fn != nil {
			out = append(out, fn)
		}
	}
	return out
}

// IsAbstract reports whether u has no body, as for interface methods and
// functions implemented outside Go.
func (p *Program) IsAbstract(u callgraph.CodeUnit) bool {
	fn, ok := Func(u)
	return ok && len(fn.Blocks) == 0
}

func (p *Program) DeclaringLoader(u callgraph.CodeUnit) callgraph.Loader {
	fn, ok := Func(u)
	if ok && p.isProjectPackage(pkgPathOf(fn)) {
		return callgraph.LoaderApplication
	}
	return callgraph.LoaderPrimordial
}

// ClassInitializer returns the package initializer of u's package.
func (p *Program) ClassInitializer(u callgraph.CodeUnit) (callgraph.CodeUnit, bool) {
	fn, ok := Func(u)
	if !ok || fn.Pkg == nil {
		return nil, false
	}
	initFn := fn.Pkg.Func("init")
	if initFn == nil || len(initFn.Blocks) == 0 {
		return nil, false
	}
	return p.unit(initFn), true
}

// IsLoaded reports whether the program declares the named type.
func (p *Program) IsLoaded(typeName string) bool {
	_, ok := p.named[typeName]
	return ok
}

// IsAssignable reports whether a value of type from, or a pointer to one,
// is assignable to type to.
func (p *Program) IsAssignable(from, to string) bool {
	tf, ok := p.named[from]
	if !ok {
		return false
	}
	tt, ok := p.named[to]
	if !ok {
		return false
	}
	if types.AssignableTo(tf, tt) {
		return true
	}
	return !types.IsInterface(tf) && types.AssignableTo(types.NewPointer(tf), tt)
}
