// Package yocto parses the cve-summary JSON emitted by Yocto's cve-check
// class and extracts the kernel CVEs still needing triage.
package yocto

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/exp/maps"
	"golang.org/x/xerrors"
)

const kernelProduct = "linux_kernel"

// Summary is the top level of a cve-summary file.
type Summary struct {
	Packages []Package `json:"package"`
}

type Package struct {
	Name     string    `json:"name"`
	Layer    string    `json:"layer,omitempty"`
	Version  string    `json:"version,omitempty"`
	Products []Product `json:"products"`
	Issues   []Issue   `json:"issue"`
}

type Product struct {
	Product      string `json:"product"`
	CvesInRecord string `json:"cvesInRecord,omitempty"`
}

type Issue struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
}

// KernelCVEs is the triage split of a summary: ids still to evaluate and
// ids Yocto already reports as patched.
type KernelCVEs struct {
	Remaining []string
	Patched   []string
}

type Option func(*loader)

type loader struct {
	appFs afero.Fs
}

func WithAppFs(fs afero.Fs) Option {
	return func(l *loader) { l.appFs = fs }
}

// Load reads and parses a cve-summary file.
func Load(path string, opts ...Option) (*Summary, error) {
	l := &loader{appFs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(l)
	}
	data, err := afero.ReadFile(l.appFs, path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read Yocto summary %s: %w", path, err)
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, xerrors.Errorf("failed to parse Yocto summary %s: %w", path, err)
	}
	return &summary, nil
}

// KernelCVEs collects CVE ids of linux_kernel packages, deduplicated
// across packages and sorted for stable batch order. Issues Yocto marks
// Patched are split out; they need no reachability analysis.
func (s *Summary) KernelCVEs() KernelCVEs {
	remaining := make(map[string]struct{})
	patched := make(map[string]struct{})

	for _, pkg := range s.Packages {
		if !pkg.hasKernelProduct() {
			continue
		}
		for _, issue := range pkg.Issues {
			if !strings.HasPrefix(issue.ID, "CVE-") {
				continue
			}
			if issue.Status == "Patched" {
				patched[issue.ID] = struct{}{}
				continue
			}
			remaining[issue.ID] = struct{}{}
		}
	}

	out := KernelCVEs{
		Remaining: maps.Keys(remaining),
		Patched:   maps.Keys(patched),
	}
	sort.Strings(out.Remaining)
	sort.Strings(out.Patched)
	return out
}

func (p Package) hasKernelProduct() bool {
	for _, product := range p.Products {
		if product.Product == kernelProduct {
			return true
		}
	}
	return false
}
