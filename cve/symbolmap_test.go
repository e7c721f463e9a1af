package cve

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSymbolMap(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "symbols.yaml", []byte(`
CVE-2024-0001:
  - CONFIG_NETFILTER
  - CONFIG_NF_TABLES
  - CONFIG_NETFILTER
CVE-2024-0002:
  - CONFIG_USB
`), 0644))

	m, err := LoadSymbolMap(fs, "symbols.yaml")
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, []string{"CONFIG_USB"}, m["CVE-2024-0002"])
}

func TestLoadSymbolMap_errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "bad.yaml", []byte("[not: a: map"), 0644))

	_, err := LoadSymbolMap(fs, "missing.yaml")
	assert.Error(t, err)

	_, err = LoadSymbolMap(fs, "bad.yaml")
	assert.Error(t, err)
}

func TestSymbolMap_Apply(t *testing.T) {
	m := SymbolMap{
		"CVE-2024-0001": {"CONFIG_A", "CONFIG_B", "CONFIG_A"},
	}
	results := []Result{
		{ID: "CVE-2024-0001", Record: &Record{ID: "CVE-2024-0001", Symbols: []string{"CONFIG_OLD"}}},
		{ID: "CVE-2024-0002", Record: &Record{ID: "CVE-2024-0002", Symbols: []string{"CONFIG_KEEP"}}},
		{ID: "CVE-2024-0003"},
	}

	m.Apply(results)

	assert.Equal(t, []string{"CONFIG_A", "CONFIG_B"}, results[0].Record.Symbols)
	assert.Equal(t, []string{"CONFIG_KEEP"}, results[1].Record.Symbols)
	assert.Nil(t, results[2].Record)
}
