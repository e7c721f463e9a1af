// Package tracer decides whether configuration symbols are reachable in a
// concrete kernel build. It resolves symbol values against the dependency
// graph and the .config snapshot, reproducing kconfig's non-interactive
// semantics: default-expression chains, forced enablement through select
// edges, and the reverse-dependency ceiling (an unmet "depends on" always
// beats an incoming select). Every decision is recorded as an evidence
// step so the verdict reads as an auditable causal chain.
package tracer

import (
	"fmt"

	"golang.org/x/xerrors"

	"github.com/brel-ge/kcfg-vex/dotconfig"
	"github.com/brel-ge/kcfg-vex/graph"
	"github.com/brel-ge/kcfg-vex/kconfig"
)

// Verdict is the reachability outcome for one CVE's implicated symbols.
type Verdict int

const (
	// NotAffected: no implicated symbol can be enabled in this build.
	NotAffected Verdict = iota
	// Affected: at least one implicated symbol resolves to y or m.
	Affected
	// UnderInvestigation: the verdict cannot be automated, most often
	// because an implicated symbol does not exist in the parsed tree.
	UnderInvestigation
)

func (v Verdict) String() string {
	switch v {
	case Affected:
		return "affected"
	case UnderInvestigation:
		return "under_investigation"
	default:
		return "not_affected"
	}
}

// Justification codes attached to NotAffected verdicts.
const (
	// JustificationNotReachable: the symbol's dependency chain cannot be
	// satisfied under the given build state.
	JustificationNotReachable = "code_not_reachable"
	// JustificationRequiresConfiguration: the symbol exists and could be
	// enabled, but is off in this configuration and nothing forces it.
	JustificationRequiresConfiguration = "requires_configuration"
)

// ErrInvalidQuery rejects malformed target sets before evaluation.
var ErrInvalidQuery = xerrors.New("invalid query: empty target symbol set")

// Step is one entry in the evidence trail, in resolution order.
type Step struct {
	Symbol string `json:"symbol"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// TraceResult is the outcome of a single evaluation. It is produced fresh
// per query and never mutated afterwards.
type TraceResult struct {
	Targets       []string `json:"targets"`
	Verdict       Verdict  `json:"-"`
	Justification string   `json:"justification,omitempty"`
	Steps         []Step   `json:"steps"`
}

// Tracer evaluates symbol reachability. It is stateless between calls:
// the graph and snapshot are read-only and memoization is scoped to one
// evaluation, so a single Tracer may be used from many goroutines.
type Tracer struct {
	graph *graph.Graph
	state *dotconfig.Config
}

func New(g *graph.Graph, state *dotconfig.Config) *Tracer {
	return &Tracer{graph: g, state: state}
}

// Evaluate resolves every target symbol and maps the outcome to a verdict.
// Target names may carry the CONFIG_ prefix used by .config snapshots and
// CVE records. An empty target set is a caller error. Everything else
// recovers in place: unknown symbols, unresolved references and
// dependency cycles become evidence notes, never process failures.
func (t *Tracer) Evaluate(targets []string) (*TraceResult, error) {
	if len(targets) == 0 {
		return nil, ErrInvalidQuery
	}

	ev := &evaluation{
		tracer:   t,
		memo:     make(map[string]kconfig.Value),
		visiting: make(map[string]bool),
		tainted:  make(map[string]bool),
		reason:   make(map[string]reachKind),
	}

	result := &TraceResult{Targets: targets}
	var unknown, enabled, configurable int
	for _, name := range targets {
		name = kconfig.CanonicalName(name)
		if _, ok := t.graph.Symbol(name); !ok {
			// Absence is ambiguous (the code may have moved); flag for
			// human review instead of silently closing.
			unknown++
			ev.note(name, kconfig.TriValue(kconfig.No),
				"symbol not found in parsed configuration tree; needs human review")
			continue
		}
		val := ev.resolve(name)
		if val.Tri > kconfig.No {
			enabled++
		} else if ev.reason[name] == reachConfigurable {
			configurable++
		}
	}
	result.Steps = ev.steps

	switch {
	case enabled > 0:
		result.Verdict = Affected
	case unknown > 0:
		result.Verdict = UnderInvestigation
	case configurable > 0:
		result.Verdict = NotAffected
		result.Justification = JustificationRequiresConfiguration
	default:
		result.Verdict = NotAffected
		result.Justification = JustificationNotReachable
	}
	return result, nil
}

// reachKind classifies why a symbol ended up disabled.
type reachKind int

const (
	reachUnreachable  reachKind = iota // dependency guard unmet
	reachConfigurable                  // off by default or in .config, never forced
)

// evaluation carries the per-query state: memoized values, the visiting
// set and stack for cycle breaking, and the evidence trail. Never shared
// across queries.
type evaluation struct {
	tracer   *Tracer
	memo     map[string]kconfig.Value
	visiting map[string]bool
	stack    []string
	tainted  map[string]bool
	reason   map[string]reachKind
	steps    []Step
}

// SymbolValue implements kconfig.Env so guard expressions resolve through
// the same memoized path as direct lookups.
func (ev *evaluation) SymbolValue(name string) kconfig.Value {
	if kconfig.IsConstant(name) {
		return kconfig.ConstantValue(name)
	}
	return ev.resolve(name)
}

func (ev *evaluation) note(symbol string, val kconfig.Value, format string, args ...interface{}) {
	ev.steps = append(ev.steps, Step{
		Symbol: symbol,
		Value:  val.Text(),
		Reason: fmt.Sprintf(format, args...),
	})
}

func (ev *evaluation) resolve(name string) kconfig.Value {
	if val, ok := ev.memo[name]; ok {
		return val
	}
	if ev.visiting[name] {
		// Break the cycle: this branch contributes "n". Every symbol
		// between the cycle entry and here consumed that provisional
		// value, so their results must not be cached.
		for i := len(ev.stack) - 1; i >= 0; i-- {
			ev.tainted[ev.stack[i]] = true
			if ev.stack[i] == name {
				break
			}
		}
		ev.note(name, kconfig.TriValue(kconfig.No),
			"dependency cycle broken; this branch contributes n")
		return kconfig.TriValue(kconfig.No)
	}
	ev.visiting[name] = true
	ev.stack = append(ev.stack, name)
	defer func() {
		delete(ev.visiting, name)
		ev.stack = ev.stack[:len(ev.stack)-1]
	}()

	val := ev.resolveUncached(name)
	if ev.tainted[name] {
		// A cycle was broken while this value was being computed. Later
		// lookups re-resolve with the cycle already settled instead of
		// reusing a possibly premature value.
		delete(ev.tainted, name)
		return val
	}
	ev.memo[name] = val
	return val
}

func (ev *evaluation) resolveUncached(name string) kconfig.Value {
	sym, ok := ev.tracer.graph.Symbol(name)
	if !ok {
		ev.note(name, kconfig.TriValue(kconfig.No),
			"referenced but not declared anywhere; treated as n")
		return kconfig.TriValue(kconfig.No)
	}

	// The dependency guard caps everything below, including incoming
	// selects (the reverse-dependency ceiling).
	ceiling := kconfig.Yes
	if sym.DependsOn != nil {
		ceiling = sym.DependsOn.Eval(ev)
	}

	val, kind := ev.baseValue(name, sym, ceiling)
	ev.reason[name] = kind
	if tristateLike(sym.Type) {
		val = ev.applySelects(name, sym, val, ceiling)
	}
	ev.note(name, val, "resolved")
	return val
}

// baseValue computes the symbol's value before select layering: the
// explicit snapshot assignment if present, otherwise kconfig's default
// resolution with the dependency guard applied first.
func (ev *evaluation) baseValue(name string, sym *kconfig.Symbol, ceiling kconfig.Tristate) (kconfig.Value, reachKind) {
	if explicit, ok := ev.tracer.state.Value(name); ok {
		ev.note(name, explicit, "explicit value from .config")
		return explicit, reachConfigurable
	}

	if tristateLike(sym.Type) && ceiling == kconfig.No {
		ev.note(name, kconfig.TriValue(kconfig.No),
			"depends on %v unsatisfied; forced to n", sym.DependsOn)
		return kconfig.TriValue(kconfig.No), reachUnreachable
	}

	// First default whose guard is satisfied wins, in declaration order.
	for _, def := range sym.Defaults {
		if def.Cond != nil && def.Cond.Eval(ev) == kconfig.No {
			continue
		}
		val := ev.defaultValue(sym, def)
		if tristateLike(sym.Type) && val.Tri > ceiling {
			ev.note(name, kconfig.TriValue(ceiling),
				"default %v capped by depends on %v", def.Value, sym.DependsOn)
			val = kconfig.TriValue(ceiling)
		} else {
			ev.note(name, val, "default %v applied", def.Value)
		}
		return val, reachConfigurable
	}

	zero := sym.ZeroValue()
	ev.note(name, zero, "unset and no default matched")
	return zero, reachConfigurable
}

func (ev *evaluation) defaultValue(sym *kconfig.Symbol, def kconfig.Default) kconfig.Value {
	if tristateLike(sym.Type) {
		tri := def.Value.Eval(ev)
		if sym.Type == kconfig.TypeBool && tri == kconfig.Module {
			tri = kconfig.Yes
		}
		return kconfig.TriValue(tri)
	}
	switch v := def.Value.(type) {
	case *kconfig.Str:
		return kconfig.RawValue(v.Val)
	case *kconfig.Ident:
		return ev.SymbolValue(v.Name)
	default:
		return kconfig.TriValue(def.Value.Eval(ev))
	}
}

// applySelects layers forced enablement over the base value: any enabled
// selector whose guard holds raises the target, but never above the
// target's own dependency ceiling.
func (ev *evaluation) applySelects(name string, sym *kconfig.Symbol, val kconfig.Value, ceiling kconfig.Tristate) kconfig.Value {
	for _, edge := range ev.tracer.graph.SelectedBy(name) {
		selector := ev.resolve(edge.From).Tri
		if selector == kconfig.No {
			continue
		}
		force := edge.Force
		if selector < force {
			force = selector
		}
		if edge.Cond != nil {
			if guard := edge.Cond.Eval(ev); guard == kconfig.No {
				continue
			} else if guard < force {
				force = guard
			}
		}
		if force > ceiling {
			ev.note(name, kconfig.TriValue(ceiling),
				"select from %s capped by depends on %v (reverse dependency ceiling)",
				edge.From, sym.DependsOn)
			force = ceiling
		}
		if force > val.Tri {
			val = kconfig.TriValue(force)
			ev.reason[name] = reachConfigurable
			ev.note(name, val, "selected by %s; raised to %s", edge.From, force)
		}
	}
	return val
}

func tristateLike(t kconfig.SymbolType) bool {
	return t == kconfig.TypeBool || t == kconfig.TypeTristate || t == kconfig.TypeUnknown
}
