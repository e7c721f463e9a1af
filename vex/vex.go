// Package vex synthesizes CycloneDX VEX documents from per-CVE
// reachability verdicts. The document shape is the CycloneDX contract;
// field names must not drift.
package vex

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/brel-ge/kcfg-vex/cve"
	"github.com/brel-ge/kcfg-vex/tracer"
	"github.com/brel-ge/kcfg-vex/utils"
)

const (
	bomFormat   = "CycloneDX"
	specVersion = "1.4"
	sourceName  = "NVD"
	sourceURL   = "https://nvd.nist.gov/vuln/detail/%s"
)

// VEX analysis states produced by verdict mapping.
const (
	StateExploitable        = "exploitable"
	StateNotAffected        = "not_affected"
	StateUnderInvestigation = "under_investigation"
)

// Document is a CycloneDX VEX document.
type Document struct {
	BOMFormat       string          `json:"bomFormat"`
	SpecVersion     string          `json:"specVersion"`
	Version         int             `json:"version"`
	SerialNumber    string          `json:"serialNumber"`
	Metadata        Metadata        `json:"metadata"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
}

type Vulnerability struct {
	ID       string    `json:"id"`
	Source   Source    `json:"source"`
	Analysis Analysis  `json:"analysis"`
	Affects  []Affects `json:"affects,omitempty"`
}

type Source struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Analysis struct {
	State         string `json:"state"`
	Justification string `json:"justification,omitempty"`
	Detail        string `json:"detail"`
}

type Affects struct {
	Ref string `json:"ref"`
}

// EvaluateFunc resolves a set of implicated symbols to a trace result.
type EvaluateFunc func(symbols []string) (*tracer.TraceResult, error)

type Option func(*Synthesizer)

// WithComponentRefs sets the SBOM component references attached to every
// analysis entry. Entries simply omit "affects" when none are supplied.
func WithComponentRefs(refs []string) Option {
	return func(s *Synthesizer) { s.componentRefs = refs }
}

// WithClock overrides the document timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Synthesizer) { s.clock = clock }
}

// WithSerialNumber pins the document serial number, for reproducible
// output.
func WithSerialNumber(serial string) Option {
	return func(s *Synthesizer) { s.serial = serial }
}

// Synthesizer folds per-CVE verdicts into one VEX document. The mapping
// itself is deterministic; the timestamp and serial number are assigned
// once at the document level.
type Synthesizer struct {
	evaluate      EvaluateFunc
	componentRefs []string
	clock         func() time.Time
	serial        string
}

func NewSynthesizer(evaluate EvaluateFunc, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		evaluate: evaluate,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize produces exactly one vulnerability entry per input result, in
// input order. A failed fetch or a missing symbol set degrades that entry
// to under_investigation; it never drops it.
func (s *Synthesizer) Synthesize(results []cve.Result) *Document {
	vulns := make([]Vulnerability, 0, len(results))
	for _, res := range results {
		vulns = append(vulns, Vulnerability{
			ID:       res.ID,
			Source:   Source{Name: sourceName, URL: fmt.Sprintf(sourceURL, res.ID)},
			Analysis: s.analyze(res),
			Affects: lo.Map(s.componentRefs, func(ref string, _ int) Affects {
				return Affects{Ref: ref}
			}),
		})
	}

	serial := s.serial
	if serial == "" {
		serial = "urn:uuid:" + uuid.NewString()
	}
	return &Document{
		BOMFormat:       bomFormat,
		SpecVersion:     specVersion,
		Version:         1,
		SerialNumber:    serial,
		Metadata:        Metadata{Timestamp: s.clock().UTC()},
		Vulnerabilities: vulns,
	}
}

func (s *Synthesizer) analyze(res cve.Result) Analysis {
	if res.Err != nil {
		return Analysis{
			State:  StateUnderInvestigation,
			Detail: fmt.Sprintf("CVE record unavailable: %v", res.Err),
		}
	}
	if len(res.Record.Symbols) == 0 {
		return Analysis{
			State:  StateUnderInvestigation,
			Detail: "no implicated configuration symbols supplied for this CVE",
		}
	}

	tr, err := s.evaluate(res.Record.Symbols)
	if err != nil {
		return Analysis{
			State:  StateUnderInvestigation,
			Detail: fmt.Sprintf("evaluation failed: %v", err),
		}
	}

	analysis := Analysis{Detail: summarize(tr)}
	switch tr.Verdict {
	case tracer.Affected:
		analysis.State = StateExploitable
	case tracer.UnderInvestigation:
		analysis.State = StateUnderInvestigation
	default:
		analysis.State = StateNotAffected
		analysis.Justification = tr.Justification
	}
	return analysis
}

// summarize renders the evidence trail as a single auditable line, in
// resolution order.
func summarize(tr *tracer.TraceResult) string {
	lines := lo.Map(tr.Steps, func(step tracer.Step, _ int) string {
		return fmt.Sprintf("%s=%s (%s)", step.Symbol, step.Value, step.Reason)
	})
	return fmt.Sprintf("implicated symbols: %s; trace: %s",
		strings.Join(tr.Targets, ", "), strings.Join(lines, "; "))
}

// Save writes the document as indented JSON.
func Save(fs utils.Fs, doc *Document, dest string) error {
	if dir := filepath.Dir(dest); dir != "." {
		if err := fs.AppFs.MkdirAll(dir, 0755); err != nil {
			return xerrors.Errorf("mkdir error: %w", err)
		}
	}
	if err := fs.WriteJSON(dest, doc); err != nil {
		return xerrors.Errorf("failed to write VEX document: %w", err)
	}
	return nil
}

// SaveSplitByState writes one document per analysis state present in doc
// (vex_exploitable.json, vex_not_affected.json, ...) into outDir, cloning
// the parent document's serial number and timestamp. States with no
// entries produce no file.
func SaveSplitByState(fs utils.Fs, doc *Document, outDir string) error {
	if err := fs.AppFs.MkdirAll(outDir, 0755); err != nil {
		return xerrors.Errorf("mkdir error: %w", err)
	}
	for _, state := range []string{StateExploitable, StateNotAffected, StateUnderInvestigation} {
		vulns := lo.Filter(doc.Vulnerabilities, func(v Vulnerability, _ int) bool {
			return v.Analysis.State == state
		})
		if len(vulns) == 0 {
			continue
		}
		split := *doc
		split.Vulnerabilities = vulns
		dest := filepath.Join(outDir, fmt.Sprintf("vex_%s.json", state))
		if err := fs.WriteJSON(dest, &split); err != nil {
			return xerrors.Errorf("failed to write %s: %w", dest, err)
		}
	}
	return nil
}
