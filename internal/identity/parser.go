// Package identity splits the delimited multi-value identity strings stored
// in engine identity links into atomic identifiers.
package identity

import (
	"strings"
	"unicode/utf8"
)

const delimiter = ","

// Mode selects how values without a delimiter are treated.
type Mode int

const (
	// ModeStandard treats any non-blank undelimited value as one identifier.
	ModeStandard Mode = iota
	// ModeLegacy accepts an undelimited value only when it is exactly one
	// character long. Longer undelimited values yield nothing.
	ModeLegacy
)

func (m Mode) String() string {
	if m == ModeLegacy {
		return "legacy"
	}
	return "standard"
}

// Parser extracts identifiers from raw link values. The zero value uses
// ModeStandard.
type Parser struct {
	mode Mode
}

// NewParser creates a parser in the given mode.
func NewParser(mode Mode) *Parser {
	return &Parser{mode: mode}
}

// Mode returns the parser mode.
func (p *Parser) Mode() Mode {
	if p == nil {
		return ModeStandard
	}
	return p.mode
}

// Parse returns the identifiers in raw, in order. It never fails: blank input
// and blank segments produce nothing. Duplicates are kept; deduplication is
// the caller's concern.
func (p *Parser) Parse(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	if !strings.Contains(trimmed, delimiter) {
		if p.Mode() == ModeLegacy && utf8.RuneCountInString(trimmed) != 1 {
			return nil
		}
		return []string{trimmed}
	}

	segments := strings.Split(trimmed, delimiter)
	ids := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		ids = append(ids, seg)
	}
	return ids
}

var standard = &Parser{}

// Parse parses raw in ModeStandard.
func Parse(raw string) []string {
	return standard.Parse(raw)
}

// Join builds a delimited link value from ids. Blank ids are dropped and the
// result is delimiter-terminated ("a,b,") so even a single identifier takes
// the delimited path when read back by a legacy parser. Returns "" when no
// id survives.
func Join(ids []string) string {
	var b strings.Builder
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		b.WriteString(id)
		b.WriteString(delimiter)
	}
	return b.String()
}

// ParseDisplayList extracts the ids from a display string of the form
// "Alice(u1),Bob(u2),". Each id is the text between '(' and the next "),";
// a trailing entry without the closing "),", is ignored.
func ParseDisplayList(raw string) []string {
	var ids []string
	rest := raw
	for {
		end := strings.Index(rest, "),")
		if end < 0 {
			return ids
		}
		entry := rest[:end]
		rest = rest[end+2:]

		start := strings.LastIndex(entry, "(")
		if start < 0 {
			continue
		}
		if id := strings.TrimSpace(entry[start+1:]); id != "" {
			ids = append(ids, id)
		}
	}
}
