// Package sbom reads a CycloneDX SBOM and resolves component identifiers
// to BOM-Link references usable as "affects" targets in a VEX document.
package sbom

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

type document struct {
	BOMFormat    string      `json:"bomFormat"`
	SerialNumber string      `json:"serialNumber"`
	Version      int         `json:"version"`
	Components   []Component `json:"components"`
}

// Component is the subset of a CycloneDX component we link against.
type Component struct {
	Name   string `json:"name"`
	BOMRef string `json:"bom-ref"`
	Purl   string `json:"purl"`
}

// SBOM is a parsed bill of materials, indexed for identifier lookup.
type SBOM struct {
	serialUUID string
	version    int
	components []Component
}

type Option func(*loader)

type loader struct {
	appFs afero.Fs
}

func WithAppFs(fs afero.Fs) Option {
	return func(l *loader) { l.appFs = fs }
}

// Load reads a CycloneDX JSON SBOM. A document of any other format is an
// error; the BOM-Link scheme below only makes sense for CycloneDX.
func Load(path string, opts ...Option) (*SBOM, error) {
	l := &loader{appFs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(l)
	}
	data, err := afero.ReadFile(l.appFs, path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read SBOM %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates SBOM content.
func Parse(data []byte) (*SBOM, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, xerrors.Errorf("failed to parse SBOM: %w", err)
	}
	if doc.BOMFormat != "CycloneDX" {
		return nil, xerrors.Errorf("unsupported SBOM format %q, want CycloneDX", doc.BOMFormat)
	}

	version := doc.Version
	if version == 0 {
		version = 1
	}
	return &SBOM{
		serialUUID: serialUUID(doc.SerialNumber),
		version:    version,
		components: doc.Components,
	}, nil
}

// Refs returns BOM-Link references (urn:cdx:<serial>/<version>#<ref>) for
// every component matching name. No match yields an empty slice; the
// caller omits the component reference rather than failing.
func (s *SBOM) Refs(name string) []string {
	var refs []string
	for _, comp := range s.components {
		if comp.Name != name {
			continue
		}
		ref := comp.BOMRef
		if ref == "" {
			ref = comp.Purl
		}
		if ref == "" {
			ref = comp.Name
		}
		refs = append(refs, fmt.Sprintf("urn:cdx:%s/%d#%s", s.serialUUID, s.version, ref))
	}
	return refs
}

// serialUUID strips the urn:uuid: prefix from a CycloneDX serial number.
func serialUUID(serial string) string {
	if serial == "" {
		return "unknown"
	}
	parts := strings.Split(serial, ":")
	return parts[len(parts)-1]
}
