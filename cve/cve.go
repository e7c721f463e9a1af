// Package cve fetches and parses CVE records from the CVE.org API, with an
// on-disk cache. The rest of the system only consumes structured Records;
// all network and cache policy lives here.
package cve

import (
	"encoding/json"
	"time"

	"github.com/araddon/dateparse"
	"github.com/samber/lo"
	"golang.org/x/xerrors"
)

// VersionRange is one affected version interval from the CVE record.
type VersionRange struct {
	Introduced string `json:"introduced,omitempty"`
	Fixed      string `json:"fixed,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Record is a parsed CVE in the only shape the tracer and synthesizer
// accept. Immutable once loaded.
type Record struct {
	ID           string         `json:"id"`
	Title        string         `json:"title,omitempty"`
	Description  string         `json:"description,omitempty"`
	Published    time.Time      `json:"published,omitempty"`
	Updated      time.Time      `json:"updated,omitempty"`
	ProgramFiles []string       `json:"programFiles,omitempty"`
	Versions     []VersionRange `json:"versions,omitempty"`
	// Symbols are the configuration symbols whose enablement exposes the
	// vulnerable code. Supplied by the record or a symbol map; this
	// package never tries to discover them from kernel source.
	Symbols []string `json:"symbols,omitempty"`
}

// Result pairs a CVE id with its record or the per-CVE failure. A batch
// always yields one Result per requested id.
type Result struct {
	ID     string
	Record *Record
	Err    error
}

// record5 mirrors the subset of the CVE JSON 5.x schema we read.
type record5 struct {
	CveMetadata struct {
		CveID         string `json:"cveId"`
		DatePublished string `json:"datePublished"`
		DateUpdated   string `json:"dateUpdated"`
	} `json:"cveMetadata"`
	Containers struct {
		Cna struct {
			Title        string `json:"title"`
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
			Affected []struct {
				Product      string   `json:"product"`
				ProgramFiles []string `json:"programFiles"`
				Configs      []string `json:"configs"`
				Versions     []struct {
					Version  string `json:"version"`
					LessThan string `json:"lessThan"`
					Status   string `json:"status"`
				} `json:"versions"`
			} `json:"affected"`
		} `json:"cna"`
	} `json:"containers"`
}

// ParseRecord converts a raw CVE 5.x JSON document into a Record.
// Timestamps in the wild are inconsistently formatted, so parsing is
// lenient; an unparsable date is simply left zero.
func ParseRecord(data []byte) (*Record, error) {
	var raw record5
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, xerrors.Errorf("failed to decode CVE record: %w", err)
	}
	if raw.CveMetadata.CveID == "" {
		return nil, xerrors.New("CVE record has no cveId")
	}

	rec := &Record{
		ID:    raw.CveMetadata.CveID,
		Title: raw.Containers.Cna.Title,
	}
	rec.Published, _ = dateparse.ParseAny(raw.CveMetadata.DatePublished)
	rec.Updated, _ = dateparse.ParseAny(raw.CveMetadata.DateUpdated)

	for _, desc := range raw.Containers.Cna.Descriptions {
		if desc.Lang == "en" || rec.Description == "" {
			rec.Description = desc.Value
		}
		if desc.Lang == "en" {
			break
		}
	}

	for _, aff := range raw.Containers.Cna.Affected {
		for _, file := range aff.ProgramFiles {
			rec.ProgramFiles = append(rec.ProgramFiles, trimDotSlash(file))
		}
		rec.Symbols = append(rec.Symbols, aff.Configs...)
		for _, v := range aff.Versions {
			rec.Versions = append(rec.Versions, VersionRange{
				Introduced: v.Version,
				Fixed:      v.LessThan,
				Status:     v.Status,
			})
		}
	}
	rec.ProgramFiles = lo.Uniq(rec.ProgramFiles)
	rec.Symbols = lo.Uniq(rec.Symbols)
	return rec, nil
}

func trimDotSlash(path string) string {
	for len(path) >= 2 && path[:2] == "./" {
		path = path[2:]
	}
	return path
}
