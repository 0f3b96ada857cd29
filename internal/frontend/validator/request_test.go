package validator

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "simple", id: "task-42"},
		{name: "email", id: "ann@example.com"},
		{name: "path like", id: "proc:leave/7.1"},
		{name: "empty", id: "", wantErr: ErrIDEmpty},
		{name: "too long", id: strings.Repeat("a", maxIDLength+1), wantErr: ErrIDTooLong},
		{name: "comma", id: "g1,g2", wantErr: ErrIDInvalid},
		{name: "space", id: "ann smith", wantErr: ErrIDInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID("actor", tt.id)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateID(%q) error = %v", tt.id, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateID(%q) error = %v, want %v", tt.id, err, tt.wantErr)
			}
			if !strings.HasPrefix(err.Error(), "actor: ") {
				t.Errorf("error %q should name the field", err)
			}
		})
	}
}

func TestValidateGroups(t *testing.T) {
	many := make([]string, maxGroupsPerCall+1)
	for i := range many {
		many[i] = "g"
	}

	tests := []struct {
		name    string
		groups  []string
		wantErr error
	}{
		{name: "one", groups: []string{"finance"}},
		{name: "blank entries skipped", groups: []string{"", "  ", "legal"}},
		{name: "none", groups: nil, wantErr: ErrGroupsEmpty},
		{name: "only blank", groups: []string{" ", ""}, wantErr: ErrGroupsEmpty},
		{name: "delimited", groups: []string{"a,b"}, wantErr: ErrIDInvalid},
		{name: "too many", groups: many, wantErr: ErrTooManyGroups},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGroups(tt.groups)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateGroups() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateVariables(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]any
		wantErr error
	}{
		{name: "ok", vars: map[string]any{"approved": true, "note": nil}},
		{name: "empty", vars: map[string]any{}, wantErr: ErrVariablesEmpty},
		{name: "blank name", vars: map[string]any{" ": 1}, wantErr: ErrVariableNameEmpty},
		{name: "long name", vars: map[string]any{strings.Repeat("v", maxVariableLength+1): 1}, wantErr: ErrVariableNameLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVariables(tt.vars)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateVariables() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
