package identity

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "blank", raw: "   ", want: nil},
		{name: "single char", raw: "a", want: []string{"a"}},
		{name: "single identifier", raw: "alice", want: []string{"alice"}},
		{name: "padded identifier", raw: "  alice ", want: []string{"alice"}},
		{name: "two groups", raw: "g1,g2", want: []string{"g1", "g2"}},
		{name: "segments trimmed", raw: " g1 , g2 ,g3", want: []string{"g1", "g2", "g3"}},
		{name: "empty segments dropped", raw: "g1,,g2,", want: []string{"g1", "g2"}},
		{name: "leading delimiter", raw: ",g1", want: []string{"g1"}},
		{name: "only delimiters", raw: ",,,", want: []string{}},
		{name: "duplicates kept", raw: "g1,g1", want: []string{"g1", "g1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseLegacyMode(t *testing.T) {
	p := NewParser(ModeLegacy)

	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "a", want: []string{"a"}},
		{raw: " a ", want: []string{"a"}},
		{raw: "alice", want: nil},
		{raw: "alice,", want: []string{"alice"}},
		{raw: "u1,u2", want: []string{"u1", "u2"}},
		{raw: "é", want: []string{"é"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := p.Parse(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("legacy Parse(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParserZeroValueIsStandard(t *testing.T) {
	var p Parser
	if got := p.Parse("alice"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("zero Parser.Parse(alice) = %q", got)
	}

	var nilParser *Parser
	if nilParser.Mode() != ModeStandard {
		t.Errorf("nil parser mode = %v, want standard", nilParser.Mode())
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		ids  []string
		want string
	}{
		{ids: nil, want: ""},
		{ids: []string{" ", ""}, want: ""},
		{ids: []string{"g1"}, want: "g1,"},
		{ids: []string{"g1", " g2 ", ""}, want: "g1,g2,"},
	}

	for _, tt := range tests {
		if got := Join(tt.ids); got != tt.want {
			t.Errorf("Join(%q) = %q, want %q", tt.ids, got, tt.want)
		}
	}
}

func TestJoinParsesBackInBothModes(t *testing.T) {
	ids := []string{"managers", "hr"}
	joined := Join(ids)

	for _, mode := range []Mode{ModeStandard, ModeLegacy} {
		got := NewParser(mode).Parse(joined)
		if !reflect.DeepEqual(got, ids) {
			t.Errorf("%v Parse(Join(%q)) = %q", mode, ids, got)
		}
	}

	single := Join([]string{"managers"})
	if got := NewParser(ModeLegacy).Parse(single); !reflect.DeepEqual(got, []string{"managers"}) {
		t.Errorf("legacy Parse(%q) = %q, want [managers]", single, got)
	}
}

func TestParseDisplayList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "two entries", raw: "Alice(u1),Bob(u2),", want: []string{"u1", "u2"}},
		{name: "unterminated tail ignored", raw: "Alice(u1),Bob(u2)", want: []string{"u1"}},
		{name: "entry without paren skipped", raw: "nobody),Bob(u2),", want: []string{"u2"}},
		{name: "empty", raw: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDisplayList(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseDisplayList(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSet(t *testing.T) {
	s := NewSet()
	if n := s.Add("u1", "g1", "u1"); n != 2 {
		t.Errorf("Add() added %d, want 2", n)
	}
	s.Add("g2", "g1")

	want := []string{"u1", "g1", "g2"}
	if got := s.Values(); !reflect.DeepEqual(got, want) {
		t.Errorf("Values() = %q, want %q", got, want)
	}
	if !s.Contains("g2") || s.Contains("G2") {
		t.Error("Contains should use exact string equality")
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}

	if got := NewSet().Values(); got == nil || len(got) != 0 {
		t.Errorf("empty Values() = %#v, want non-nil empty slice", got)
	}
}
