// Package graph builds the read-only dependency graph over parsed Kconfig
// symbols: conjoined "depends on" guards plus forward and reverse select
// edges. The graph may contain select cycles; consumers must traverse with
// their own visited sets.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/brel-ge/kcfg-vex/kconfig"
)

// SelectEdge is one select relation: From, when enabled and Cond holds,
// raises To to at least Force (subject to To's own dependency ceiling).
type SelectEdge struct {
	From  string
	To    string
	Cond  kconfig.Expr
	Force kconfig.Tristate
}

// Graph is immutable after Build and safe for concurrent readers.
type Graph struct {
	kconf      *kconfig.KConfig
	selectsBy  map[string][]SelectEdge // selector -> outgoing edges
	selectedBy map[string][]SelectEdge // target -> incoming edges
	unresolved []string                // referenced but never declared, sorted
}

// Build indexes the symbol table. References to undeclared symbols are
// recorded as unresolved, not rejected: they evaluate to "n" forever.
func Build(kconf *kconfig.KConfig) *Graph {
	g := &Graph{
		kconf:      kconf,
		selectsBy:  make(map[string][]SelectEdge),
		selectedBy: make(map[string][]SelectEdge),
	}

	missing := make(map[string]bool)
	note := func(name string) {
		if kconfig.IsConstant(name) {
			return
		}
		if _, ok := kconf.Configs[name]; !ok {
			missing[name] = true
		}
	}
	noteExpr := func(e kconfig.Expr) {
		if e != nil {
			e.Walk(note)
		}
	}

	for _, name := range kconf.Names {
		sym := kconf.Configs[name]
		noteExpr(sym.DependsOn)
		for _, def := range sym.Defaults {
			noteExpr(def.Value)
			noteExpr(def.Cond)
		}
		for _, sel := range sym.Selects {
			note(sel.Target)
			noteExpr(sel.Cond)
			edge := SelectEdge{
				From:  name,
				To:    sel.Target,
				Cond:  sel.Cond,
				Force: sel.Force,
			}
			g.selectsBy[name] = append(g.selectsBy[name], edge)
			g.selectedBy[sel.Target] = append(g.selectedBy[sel.Target], edge)
		}
	}

	g.unresolved = maps.Keys(missing)
	sort.Strings(g.unresolved)
	return g
}

// Symbol looks up a declared symbol by name.
func (g *Graph) Symbol(name string) (*kconfig.Symbol, bool) {
	sym, ok := g.kconf.Configs[name]
	return sym, ok
}

// Names returns all symbol names in declaration order.
func (g *Graph) Names() []string {
	return g.kconf.Names
}

// Len returns the number of declared symbols.
func (g *Graph) Len() int {
	return len(g.kconf.Configs)
}

// DependsOn returns the accumulated dependency guard of name, nil when the
// symbol has none.
func (g *Graph) DependsOn(name string) kconfig.Expr {
	if sym, ok := g.kconf.Configs[name]; ok {
		return sym.DependsOn
	}
	return nil
}

// Selects returns the outgoing select edges of name.
func (g *Graph) Selects(name string) []SelectEdge {
	return g.selectsBy[name]
}

// SelectedBy returns the select edges pointing at name; this reverse view
// feeds the reverse-dependency ceiling computation.
func (g *Graph) SelectedBy(name string) []SelectEdge {
	return g.selectedBy[name]
}

// Unresolved returns the sorted names referenced in expressions or select
// targets but never declared anywhere in the tree.
func (g *Graph) Unresolved() []string {
	return g.unresolved
}

// Render writes a human-readable projection of the graph around name,
// following outgoing dependency and select relations up to depth hops.
func (g *Graph) Render(name string, depth int) string {
	var b strings.Builder
	seen := make(map[string]bool)
	g.render(&b, name, 0, depth, seen)
	return b.String()
}

func (g *Graph) render(b *strings.Builder, name string, level, depth int, seen map[string]bool) {
	indent := strings.Repeat("  ", level)
	sym, ok := g.kconf.Configs[name]
	if !ok {
		fmt.Fprintf(b, "%s%s (undeclared)\n", indent, name)
		return
	}
	fmt.Fprintf(b, "%s%s %s", indent, name, sym.Type)
	if sym.Prompt != "" {
		fmt.Fprintf(b, " %q", sym.Prompt)
	}
	b.WriteString("\n")
	if seen[name] {
		fmt.Fprintf(b, "%s  (repeated)\n", indent)
		return
	}
	seen[name] = true

	if sym.DependsOn != nil {
		fmt.Fprintf(b, "%s  depends on %v\n", indent, sym.DependsOn)
	}
	for _, edge := range g.selectsBy[name] {
		if edge.Cond != nil {
			fmt.Fprintf(b, "%s  selects %s if %v\n", indent, edge.To, edge.Cond)
		} else {
			fmt.Fprintf(b, "%s  selects %s\n", indent, edge.To)
		}
	}
	for _, edge := range g.selectedBy[name] {
		fmt.Fprintf(b, "%s  selected by %s\n", indent, edge.From)
	}
	if level >= depth {
		return
	}
	next := make(map[string]bool)
	if sym.DependsOn != nil {
		sym.DependsOn.Walk(func(dep string) { next[dep] = true })
	}
	for _, edge := range g.selectsBy[name] {
		next[edge.To] = true
	}
	deps := maps.Keys(next)
	sort.Strings(deps)
	for _, dep := range deps {
		g.render(b, dep, level+1, depth, seen)
	}
}
