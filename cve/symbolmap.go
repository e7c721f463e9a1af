package cve

import (
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// SymbolMap maps CVE ids to the configuration symbols that expose the
// vulnerable code. Symbol discovery is out of scope for the tracer, so
// this caller-maintained mapping supplements records whose source does
// not carry config information.
type SymbolMap map[string][]string

// LoadSymbolMap reads a YAML file of the form:
//
//	CVE-2024-1234:
//	  - CONFIG_NETFILTER
//	  - CONFIG_NF_TABLES
func LoadSymbolMap(fs afero.Fs, path string) (SymbolMap, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read symbol map %s: %w", path, err)
	}
	var m SymbolMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, xerrors.Errorf("failed to parse symbol map %s: %w", path, err)
	}
	return m, nil
}

// Apply overlays mapped symbols onto each fetched record. Mapped entries
// replace whatever the record carried; unmapped records are untouched.
func (m SymbolMap) Apply(results []Result) {
	for _, res := range results {
		if res.Record == nil {
			continue
		}
		if symbols, ok := m[res.ID]; ok {
			res.Record.Symbols = lo.Uniq(symbols)
		}
	}
}
