package tracer

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brel-ge/kcfg-vex/dotconfig"
	"github.com/brel-ge/kcfg-vex/graph"
	"github.com/brel-ge/kcfg-vex/kconfig"
)

func newTestTracer(t *testing.T, tree, config string) *Tracer {
	t.Helper()
	kconf := kconfig.ParseData([]byte(tree), "Kconfig")
	require.Empty(t, kconf.Diags)
	return New(graph.Build(kconf), dotconfig.FromText(config))
}

func TestEvaluate(t *testing.T) {
	testCases := []struct {
		name              string
		tree              string
		config            string
		targets           []string
		wantVerdict       Verdict
		wantJustification string
	}{
		{
			name: "no dependencies and no default resolves to n",
			tree: `
config FOO
	bool "Foo"
`,
			targets:           []string{"FOO"},
			wantVerdict:       NotAffected,
			wantJustification: JustificationRequiresConfiguration,
		},
		{
			name: "default y makes the symbol reachable",
			tree: `
config FOO
	bool "Foo"
	default y
`,
			targets:     []string{"FOO"},
			wantVerdict: Affected,
		},
		{
			name: "module value counts as enabled",
			tree: `
config USB
	tristate "USB"
`,
			config:      "CONFIG_USB=m\n",
			targets:     []string{"USB"},
			wantVerdict: Affected,
		},
		{
			name: "unmet dependency forces n",
			tree: `
config NET
	bool

config INET
	bool "TCP/IP"
	depends on NET
	default y
`,
			targets:           []string{"INET"},
			wantVerdict:       NotAffected,
			wantJustification: JustificationNotReachable,
		},
		{
			name: "satisfied dependency with default y resolves to y",
			tree: `
config BAR
	bool

config FOO
	bool "Foo"
	depends on BAR
	default y
`,
			config:      "CONFIG_BAR=y\n",
			targets:     []string{"FOO"},
			wantVerdict: Affected,
		},
		{
			name: "explicitly disabled symbol is configurable, not unreachable",
			tree: `
config FOO
	bool "Foo"
	default y
`,
			config:            "# CONFIG_FOO is not set\n",
			targets:           []string{"FOO"},
			wantVerdict:       NotAffected,
			wantJustification: JustificationRequiresConfiguration,
		},
		{
			name: "explicit snapshot value wins over defaults",
			tree: `
config FOO
	bool "Foo"
`,
			config:      "CONFIG_FOO=y\n",
			targets:     []string{"FOO"},
			wantVerdict: Affected,
		},
		{
			name: "first satisfied default wins in declaration order",
			tree: `
config MODE
	bool
	default y

config FOO
	tristate "Foo"
	default m if MODE
	default y
`,
			config:      "",
			targets:     []string{"FOO"},
			wantVerdict: Affected,
		},
		{
			name: "select forces the target on",
			tree: `
config CRYPTO_API
	bool
	default y
	select CRYPTO_LIB

config CRYPTO_LIB
	bool
`,
			targets:     []string{"CRYPTO_LIB"},
			wantVerdict: Affected,
		},
		{
			name: "guarded select stays off when the guard fails",
			tree: `
config A
	bool
	default y
	select B if C

config B
	bool

config C
	bool
`,
			targets:           []string{"B"},
			wantVerdict:       NotAffected,
			wantJustification: JustificationRequiresConfiguration,
		},
		{
			name: "unmet depends beats an incoming select",
			tree: `
config X
	bool
	default y
	select Y

config Y
	bool "Y"
	depends on Z

config Z
	bool
`,
			targets:           []string{"Y"},
			wantVerdict:       NotAffected,
			wantJustification: JustificationNotReachable,
		},
		{
			name: "module selector forces the target to m only",
			tree: `
config DRIVER
	tristate
	select HELPER

config HELPER
	tristate "Helper"
`,
			config:      "CONFIG_DRIVER=m\n",
			targets:     []string{"HELPER"},
			wantVerdict: Affected,
		},
		{
			name: "select cycle terminates",
			tree: `
config A
	bool
	default y
	select B

config B
	bool
	select A
`,
			targets:     []string{"A", "B"},
			wantVerdict: Affected,
		},
		{
			name: "mutual depends cycle resolves to n",
			tree: `
config A
	bool "A"
	depends on B
	default y

config B
	bool "B"
	depends on A
	default y
`,
			targets:           []string{"A", "B"},
			wantVerdict:       NotAffected,
			wantJustification: JustificationNotReachable,
		},
		{
			name: "config-prefixed targets match unprefixed symbols",
			tree: `
config NETFILTER
	bool "Netfilter"
	default y
`,
			targets:     []string{"CONFIG_NETFILTER"},
			wantVerdict: Affected,
		},
		{
			name: "unknown symbol needs human review",
			tree: `
config FOO
	bool
`,
			targets:     []string{"CONFIG_TOTALLY_UNKNOWN"},
			wantVerdict: UnderInvestigation,
		},
		{
			name: "any enabled target outranks unknowns",
			tree: `
config FOO
	bool
	default y
`,
			targets:     []string{"CONFIG_TOTALLY_UNKNOWN", "FOO"},
			wantVerdict: Affected,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTestTracer(t, tc.tree, tc.config)
			result, err := tr.Evaluate(tc.targets)
			require.NoError(t, err)
			assert.Equal(t, tc.wantVerdict, result.Verdict, "steps: %v", result.Steps)
			assert.Equal(t, tc.wantJustification, result.Justification)
			assert.Equal(t, tc.targets, result.Targets)
			assert.NotEmpty(t, result.Steps)
		})
	}
}

func TestEvaluate_emptyTargets(t *testing.T) {
	tr := newTestTracer(t, "config FOO\n\tbool\n", "")
	_, err := tr.Evaluate(nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestEvaluate_evidenceTrail(t *testing.T) {
	tr := newTestTracer(t, `
config X
	bool
	default y
	select Y

config Y
	bool "Y"
	depends on Z

config Z
	bool
`, "")

	result, err := tr.Evaluate([]string{"Y"})
	require.NoError(t, err)

	var reasons []string
	for _, step := range result.Steps {
		reasons = append(reasons, step.Reason)
	}
	assert.Contains(t, reasons, "depends on Z unsatisfied; forced to n")
	assert.Contains(t, reasons,
		"select from X capped by depends on Z (reverse dependency ceiling)")
}

const selectCycleTree = `
config A
	bool
	default y
	select B

config B
	bool "B"
	select A
`

func TestEvaluate_cycleValueNotReusedDownstream(t *testing.T) {
	// W is genuinely enabled: A defaults to y and forces B on. The
	// provisional B=n seen while A untangles its own cycle must not leak
	// into W's dependency check.
	tr := newTestTracer(t, selectCycleTree+`
config W
	bool "W"
	depends on A && B
	default y
`, "")

	result, err := tr.Evaluate([]string{"W"})
	require.NoError(t, err)
	assert.Equal(t, Affected, result.Verdict, "steps: %v", result.Steps)
}

func TestEvaluate_cycleResolutionOrderIndependent(t *testing.T) {
	finalValue := func(result *TraceResult, symbol string) string {
		value := ""
		for _, step := range result.Steps {
			if step.Symbol == symbol && step.Reason == "resolved" {
				value = step.Value
			}
		}
		return value
	}

	tr := newTestTracer(t, selectCycleTree, "")

	batch, err := tr.Evaluate([]string{"A", "B"})
	require.NoError(t, err)
	single, err := tr.Evaluate([]string{"B"})
	require.NoError(t, err)

	// B is forced on by A either way, whether it is resolved after A in a
	// batch or on its own.
	assert.Equal(t, Affected, batch.Verdict)
	assert.Equal(t, Affected, single.Verdict)
	assert.Equal(t, "y", finalValue(batch, "B"), "steps: %v", batch.Steps)
	assert.Equal(t, "y", finalValue(single, "B"), "steps: %v", single.Steps)
}

func TestEvaluate_idempotent(t *testing.T) {
	tr := newTestTracer(t, `
config A
	bool
	default y
	select B

config B
	tristate "B"
	depends on C

config C
	bool
	default y
`, "CONFIG_C=y\n")

	first, err := tr.Evaluate([]string{"B"})
	require.NoError(t, err)
	second, err := tr.Evaluate([]string{"B"})
	require.NoError(t, err)

	if diff := pretty.Compare(first, second); diff != "" {
		t.Errorf("evaluation is not idempotent (-first +second):\n%s", diff)
	}
}

func TestEvaluate_nonTristateTypes(t *testing.T) {
	tr := newTestTracer(t, `
config NR_CPUS
	int "CPU count"
	default 64

config BIG_SMP
	bool "Large SMP"
	depends on NR_CPUS > 8
	default y
`, "")

	result, err := tr.Evaluate([]string{"BIG_SMP"})
	require.NoError(t, err)
	assert.Equal(t, Affected, result.Verdict, "steps: %v", result.Steps)
}
