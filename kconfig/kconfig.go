// Package kconfig parses Linux kernel Kconfig trees into a symbol table
// with dependency and select relations. For the language reference see
// https://www.kernel.org/doc/html/latest/kbuild/kconfig-language.html
package kconfig

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// CanonicalName strips the CONFIG_ prefix that .config snapshots and CVE
// records carry, yielding the name as declared in Kconfig source.
func CanonicalName(name string) string {
	return strings.TrimPrefix(name, "CONFIG_")
}

// SymbolType is the value domain of a config symbol.
type SymbolType int

const (
	TypeUnknown SymbolType = iota
	TypeBool
	TypeTristate
	TypeInt
	TypeHex
	TypeString
)

func (t SymbolType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeTristate:
		return "tristate"
	case TypeInt:
		return "int"
	case TypeHex:
		return "hex"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Default is one "default <value> [if <cond>]" rule.
type Default struct {
	Value Expr
	Cond  Expr
}

// Select is one "select <target> [if <cond>]" clause. Force is the value
// the target is raised to when the selecting symbol is enabled, subject to
// the target's own dependency ceiling.
type Select struct {
	Target string
	Cond   Expr
	Force  Tristate
}

// Symbol is a single config/menuconfig entry. Definitions of the same name
// across files are merged: the last prompt and type win, defaults keep
// declaration order, depends and select clauses accumulate. Symbols are
// immutable once parsing finishes.
type Symbol struct {
	Name      string
	Type      SymbolType
	Prompt    string
	Defaults  []Default
	DependsOn Expr // conjoined across definitions and enclosing menu/if blocks
	Selects   []Select
	File      string
	Line      int
}

// ZeroValue is the value an undeclared-default symbol resolves to.
func (s *Symbol) ZeroValue() Value {
	switch s.Type {
	case TypeInt, TypeHex:
		return RawValue("0")
	case TypeString:
		return RawValue("")
	default:
		return TriValue(No)
	}
}

// Diagnostic is a recoverable parse problem: the entry was skipped and the
// rest of the tree still parsed.
type Diagnostic struct {
	File string
	Line int
	Msg  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: %s", d.File, d.Line, d.Msg)
}

// KConfig is the parsed symbol table of a whole Kconfig tree.
type KConfig struct {
	Configs map[string]*Symbol
	Names   []string // declaration order
	Diags   []Diagnostic
}

type Option func(*parser)

// WithFs sets the filesystem used to resolve source directives.
func WithFs(fs afero.Fs) Option {
	return func(p *parser) { p.fs = fs }
}

// WithArch sets the value substituted for $(SRCARCH) in source paths.
func WithArch(arch string) Option {
	return func(p *parser) { p.arch = arch }
}

const maxIncludeDepth = 100

type scope struct {
	kind string // menu, if, choice
	cond Expr
}

type parser struct {
	*scanner
	fs         afero.Fs
	arch       string
	rootDir    string
	kconf      *KConfig
	scopes     []scope
	cur        *Symbol
	helpIndent int
	depth      int
}

// Parse reads the Kconfig tree rooted at file. An unreadable root is fatal;
// everything else degrades to diagnostics on the returned KConfig.
func Parse(file string, opts ...Option) (*KConfig, error) {
	p := &parser{
		fs:   afero.NewOsFs(),
		arch: "x86",
		kconf: &KConfig{
			Configs: make(map[string]*Symbol),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	data, err := afero.ReadFile(p.fs, file)
	if err != nil {
		return nil, xerrors.Errorf("failed to read Kconfig root %s: %w", file, err)
	}
	p.rootDir = path.Dir(file)
	p.parseData(data, file)
	return p.kconf, nil
}

// ParseData parses an in-memory Kconfig tree rooted at data. Includes are
// resolved relative to the directory of file via the configured filesystem.
func ParseData(data []byte, file string, opts ...Option) *KConfig {
	p := &parser{
		fs:   afero.NewMemMapFs(),
		arch: "x86",
		kconf: &KConfig{
			Configs: make(map[string]*Symbol),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.rootDir = path.Dir(file)
	p.parseData(data, file)
	return p.kconf
}

func (p *parser) parseData(data []byte, file string) {
	prev := p.scanner
	p.scanner = newScanner(data, file)
	for p.nextLine() {
		p.parseLine()
		if p.lineErr != nil {
			p.diag(p.lineErr.Error())
		}
	}
	p.endCurrent()
	p.scanner = prev
}

func (p *parser) diag(msg string) {
	file, line := "", 0
	if p.scanner != nil {
		file, line = p.scanner.file, p.scanner.lineNum
	}
	msg = strings.TrimPrefix(msg, fmt.Sprintf("%s:%d: ", file, line))
	p.kconf.Diags = append(p.kconf.Diags, Diagnostic{File: file, Line: line, Msg: msg})
}

func (p *parser) parseLine() {
	if p.eol() {
		return
	}
	if p.helpIndent != 0 {
		if p.indent >= p.helpIndent {
			p.ConsumeLine()
			return
		}
		p.helpIndent = 0
	}
	if p.TryConsume("$") {
		// Macro invocation line, not used for dependency analysis.
		p.ConsumeLine()
		return
	}
	ident := p.Ident()
	if p.lineErr != nil {
		return
	}
	if p.TryConsume(":=") || p.TryConsume("=") {
		// Macro definition, see kconfig-macro-language.rst.
		p.ConsumeLine()
		return
	}
	p.parseEntry(ident)
}

func (p *parser) parseEntry(cmd string) {
	switch cmd {
	case "source":
		p.endCurrent()
		file, ok := p.TryQuotedString()
		if !ok {
			file = p.ConsumeLine()
		}
		p.includeSource(file, p.rootDir)
	case "rsource":
		p.endCurrent()
		file, ok := p.TryQuotedString()
		if !ok {
			file = p.ConsumeLine()
		}
		p.includeSource(file, path.Dir(p.scanner.file))
	case "mainmenu":
		p.endCurrent()
		p.QuotedString()
	case "comment":
		p.endCurrent()
		p.QuotedString()
	case "menu":
		p.endCurrent()
		p.QuotedString()
		p.pushScope(scope{kind: "menu"})
	case "if":
		p.endCurrent()
		p.pushScope(scope{kind: "if", cond: p.parseExpr()})
	case "choice":
		p.endCurrent()
		p.pushScope(scope{kind: "choice"})
	case "endmenu", "endif", "endchoice":
		p.endCurrent()
		p.popScope(cmd)
	case "config", "menuconfig":
		p.endCurrent()
		p.cur = &Symbol{
			Name: p.Ident(),
			File: p.scanner.file,
			Line: p.scanner.lineNum,
		}
		if p.lineErr != nil {
			p.cur = nil
		}
	default:
		p.parseType(cmd)
	}
}

func (p *parser) parseType(typ string) {
	switch typ {
	case "bool", "boolean":
		p.setType(TypeBool)
		p.tryParsePrompt()
	case "tristate":
		p.setType(TypeTristate)
		p.tryParsePrompt()
	case "int":
		p.setType(TypeInt)
		p.tryParsePrompt()
	case "hex":
		p.setType(TypeHex)
		p.tryParsePrompt()
	case "string":
		p.setType(TypeString)
		p.tryParsePrompt()
	case "def_bool":
		p.setType(TypeBool)
		p.parseDefault()
	case "def_tristate":
		p.setType(TypeTristate)
		p.parseDefault()
	case "def_int":
		p.setType(TypeInt)
		p.parseDefault()
	case "def_hex":
		p.setType(TypeHex)
		p.parseDefault()
	case "def_string":
		p.setType(TypeString)
		p.parseDefault()
	default:
		p.parseProperty(typ)
	}
}

func (p *parser) parseProperty(prop string) {
	switch prop {
	case "prompt":
		p.tryParsePrompt()
	case "depends":
		p.MustConsume("on")
		cond := p.parseExpr()
		if p.lineErr != nil {
			return
		}
		if p.cur != nil {
			p.cur.DependsOn = conjoin(p.cur.DependsOn, cond)
		} else if n := len(p.scopes); n > 0 {
			// Menu-level dependency, inherited by contained entries.
			p.scopes[n-1].cond = conjoin(p.scopes[n-1].cond, cond)
		} else {
			p.failf("depends outside of config or menu")
		}
	case "visible":
		// Prompt visibility only; it does not gate values.
		p.MustConsume("if")
		p.parseExpr()
	case "select", "imply":
		target := p.Ident()
		var cond Expr
		if p.TryConsume("if") {
			cond = p.parseExpr()
		}
		if p.lineErr != nil {
			return
		}
		// imply is a hint, not a forced value; only select creates an edge.
		if prop == "select" && p.cur != nil {
			p.cur.Selects = append(p.cur.Selects, Select{
				Target: target,
				Cond:   cond,
				Force:  Yes,
			})
		}
	case "default":
		p.parseDefault()
	case "range":
		p.parseTerm()
		p.parseTerm()
		if p.TryConsume("if") {
			p.parseExpr()
		}
	case "option":
		p.ConsumeLine()
	case "modules", "optional":
	case "help", "---help---":
		// The help body ends at the first line with smaller indentation,
		// skipping empty lines.
		for p.nextLine() {
			if p.eol() {
				continue
			}
			p.helpIndent = p.indent
			p.ConsumeLine()
			break
		}
	default:
		p.failf("unknown directive %q", prop)
	}
}

func (p *parser) setType(t SymbolType) {
	if p.cur == nil {
		// Type line of a choice block; nothing to record.
		p.ConsumeLine()
		return
	}
	p.cur.Type = t
}

func (p *parser) tryParsePrompt() {
	str, ok := p.TryQuotedString()
	if !ok {
		return
	}
	if p.TryConsume("if") {
		p.parseExpr()
	}
	if p.cur != nil {
		p.cur.Prompt = str
	}
}

func (p *parser) parseDefault() {
	def := Default{Value: p.parseTerm()}
	if p.TryConsume("if") {
		def.Cond = p.parseExpr()
	}
	if p.lineErr != nil || p.cur == nil {
		return
	}
	p.cur.Defaults = append(p.cur.Defaults, def)
}

func (p *parser) pushScope(sc scope) {
	p.scopes = append(p.scopes, sc)
}

func (p *parser) popScope(cmd string) {
	if len(p.scopes) == 0 {
		p.failf("unbalanced %s", cmd)
		return
	}
	p.scopes = p.scopes[:len(p.scopes)-1]
}

// endCurrent finalizes the entry under construction: enclosing menu/if
// conditions are conjoined into its dependency guard and the entry is
// merged into the table.
func (p *parser) endCurrent() {
	cur := p.cur
	p.cur = nil
	p.helpIndent = 0
	if cur == nil || cur.Name == "" {
		return
	}
	var inherited Expr
	for _, sc := range p.scopes {
		inherited = conjoin(inherited, sc.cond)
	}
	cur.DependsOn = conjoin(inherited, cur.DependsOn)

	existing := p.kconf.Configs[cur.Name]
	if existing == nil {
		p.kconf.Configs[cur.Name] = cur
		p.kconf.Names = append(p.kconf.Names, cur.Name)
		return
	}
	// Redefinition: conditional per-arch redefinitions are normal in real
	// trees, so merge rather than complain.
	if cur.Type != TypeUnknown {
		existing.Type = cur.Type
	}
	if cur.Prompt != "" {
		existing.Prompt = cur.Prompt
	}
	existing.Defaults = append(existing.Defaults, cur.Defaults...)
	existing.DependsOn = conjoin(existing.DependsOn, cur.DependsOn)
	existing.Selects = append(existing.Selects, cur.Selects...)
}

func (p *parser) includeSource(file, baseDir string) {
	if p.depth >= maxIncludeDepth {
		p.diag(fmt.Sprintf("source %q: include depth limit reached", file))
		return
	}
	file = p.expandString(file)
	full := path.Join(baseDir, file)
	data, err := afero.ReadFile(p.fs, full)
	if err != nil {
		p.diag(fmt.Sprintf("source %q: %v", file, err))
		return
	}
	p.depth++
	p.parseData(data, full)
	p.depth--
}

func (p *parser) expandString(str string) string {
	str = strings.Replace(str, "$(SRCARCH)", p.arch, -1)
	str = strings.Replace(str, "$SRCARCH", p.arch, -1)
	str = strings.Replace(str, "$(KCONFIG_EXT_PREFIX)", "", -1)
	return str
}
