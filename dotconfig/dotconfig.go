// Package dotconfig loads a concrete kernel build configuration from a
// .config snapshot, including gzip-compressed snapshots in the
// /proc/config.gz shape. The snapshot is the explicit part of the build
// state; unset symbols are resolved against the dependency graph at trace
// time, not here.
package dotconfig

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/brel-ge/kcfg-vex/kconfig"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Config is the explicit symbol assignment of one build. Symbols are
// keyed by their canonical (unprefixed) name so lookups line up with the
// parsed Kconfig tree; both spellings are accepted on lookup. Populated
// at load time only.
type Config struct {
	values map[string]string
}

type Option func(*loader)

type loader struct {
	appFs afero.Fs
}

// WithAppFs sets the filesystem the snapshot is read from.
func WithAppFs(fs afero.Fs) Option {
	return func(l *loader) { l.appFs = fs }
}

// Load reads a .config snapshot from path, transparently decompressing
// gzip input.
func Load(path string, opts ...Option) (*Config, error) {
	l := &loader{appFs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(l)
	}
	f, err := l.appFs.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(2)
	var r io.Reader = br
	if bytes.Equal(head, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, xerrors.Errorf("failed to read gzip config %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Errorf("failed to read config %s: %w", path, err)
	}
	return FromText(string(data)), nil
}

// FromText parses .config content: "CONFIG_X=value" assignments and
// "# CONFIG_X is not set" comments. Anything else is ignored.
func FromText(text string) *Config {
	values := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "CONFIG_"):
			if eq := strings.Index(line, "="); eq > 0 {
				values[kconfig.CanonicalName(line[:eq])] = line[eq+1:]
			}
		case strings.HasPrefix(line, "# CONFIG_") && strings.HasSuffix(line, " is not set"):
			name := strings.TrimSuffix(strings.TrimPrefix(line, "# "), " is not set")
			values[kconfig.CanonicalName(name)] = "n"
		}
	}
	return &Config{values: values}
}

// Value returns the explicit value of name, reporting false for symbols
// absent from the snapshot. The name may carry the CONFIG_ prefix.
func (c *Config) Value(name string) (kconfig.Value, bool) {
	raw, ok := c.values[kconfig.CanonicalName(name)]
	if !ok {
		return kconfig.Value{}, false
	}
	if tri, ok := kconfig.ParseTristate(raw); ok {
		return kconfig.TriValue(tri), true
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	return kconfig.RawValue(raw), true
}

// IsEnabled reports whether name is set to "y", or to "m" when modules
// count as enabled.
func (c *Config) IsEnabled(name string, includeModules bool) bool {
	switch c.values[kconfig.CanonicalName(name)] {
	case "y":
		return true
	case "m":
		return includeModules
	}
	return false
}

// EnabledSet returns the canonical names of every symbol set to "y"
// ("m" included on request).
func (c *Config) EnabledSet(includeModules bool) map[string]struct{} {
	set := make(map[string]struct{})
	for name := range c.values {
		if c.IsEnabled(name, includeModules) {
			set[name] = struct{}{}
		}
	}
	return set
}

// Len returns the number of explicit assignments.
func (c *Config) Len() int {
	return len(c.values)
}
