package gossa

import (
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"

	"go-callgraph-refine/callgraph"
)

type siteInstr struct {
	site  callgraph.CallSite
	instr ssa.Instruction
}

// CallSites returns the call sites of n's function in instruction order.
// Each call, go and defer statement is a site, and so is each closure
// creation. Calls of built-in functions are not sites.
func (p *Program) CallSites(n *callgraph.Node) []callgraph.CallSite {
	fn, ok := Func(n.Unit)
	if !ok {
		return nil
	}
	sis := p.sitesOf(fn)
	out := make([]callgraph.CallSite, len(sis))
	for i, si := range sis {
		out[i] = si.site
	}
	return out
}

// SynthesizeWrapper returns the function a closure creation site makes.
func (p *Program) SynthesizeWrapper(n *callgraph.Node, site callgraph.CallSite) (callgraph.CodeUnit, bool) {
	fn, ok := Func(n.Unit)
	if !ok {
		return nil, false
	}
	mc, ok := p.instrAt(fn, site.PC).(*ssa.MakeClosure)
	if !ok {
		return nil, false
	}
	body, ok := mc.Fn.(*ssa.Function)
	if !ok {
		return nil, false
	}
	return p.unit(body), true
}

// SitePosition returns the source position of the site at pc in u.
func (p *Program) SitePosition(u callgraph.CodeUnit, pc int) token.Position {
	fn, ok := Func(u)
	if !ok {
		return token.Position{}
	}
	instr := p.instrAt(fn, pc)
	if instr == nil {
		return token.Position{}
	}
	return p.prog.Fset.Position(instr.Pos())
}

func (p *Program) instrAt(fn *ssa.Function, pc int) ssa.Instruction {
	sis := p.sitesOf(fn)
	if pc < 0 || pc >= len(sis) {
		return nil
	}
	return sis[pc].instr
}

func (p *Program) sitesOf(fn *ssa.Function) []siteInstr {
	if sis, ok := p.sites[fn]; ok {
		return sis
	}
	var sis []siteInstr
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			site, ok := p.siteOf(instr)
			if !ok {
				continue
			}
			site.PC = len(sis)
			sis = append(sis, siteInstr{site: site, instr: instr})
		}
	}
	p.sites[fn] = sis
	return sis
}

func (p *Program) siteOf(instr ssa.Instruction) (callgraph.CallSite, bool) {
	switch instr := instr.(type) {
	case *ssa.MakeClosure:
		body, ok := instr.Fn.(*ssa.Function)
		if !ok {
			return callgraph.CallSite{}, false
		}
		return callgraph.CallSite{Target: p.unit(body).Ref(), Kind: callgraph.DispatchDynamic}, true

	case ssa.CallInstruction:
		common := instr.Common()
		if common.IsInvoke() {
			iface, ok := common.Value.Type().Underlying().(*types.Interface)
			if !ok {
				return callgraph.CallSite{}, false
			}
			ref := callgraph.MethodRef{
				Class:     types.TypeString(common.Value.Type(), nil),
				Name:      common.Method.Name(),
				Signature: common.Method.Type().String(),
			}
			p.ifaces[ref] = ifaceMethod{iface: iface, method: common.Method}
			return callgraph.CallSite{Target: ref, Kind: callgraph.DispatchInterface}, true
		}
		if callee := common.StaticCallee(); callee != nil {
			kind := callgraph.DispatchStatic
			if callee.Signature.Recv() != nil {
				kind = callgraph.DispatchSpecial
			}
			return callgraph.CallSite{Target: p.unit(callee).Ref(), Kind: kind}, true
		}
		if _, ok := common.Value.(*ssa.Builtin); ok {
			return callgraph.CallSite{}, false
		}
		sig := common.Signature()
		ref := callgraph.MethodRef{Name: "call", Signature: sig.String()}
		p.valueSig[ref] = sig
		return callgraph.CallSite{Target: ref, Kind: callgraph.DispatchVirtual}, true
	}
	return callgraph.CallSite{}, false
}
