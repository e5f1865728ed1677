package tutor_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxtutor/internal/tutor"
)

func TestParseRole(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want tutor.Role
	}{
		{"math", tutor.Math},
		{"MATH", tutor.Math},
		{" Science ", tutor.Science},
		{"history", tutor.History},
		{"language", tutor.Language},
		{"general", tutor.General},
		{"", tutor.General},
		{"physics", tutor.Science},
		{"Mathematics", tutor.Math},
		{"sciense", tutor.Science},
		{"histroy", tutor.History},
		{"cooking", tutor.General},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := tutor.ParseRole(tt.in); got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()
	for _, r := range tutor.Roles {
		p := r.SystemPrompt()
		if !strings.Contains(p, "[writing]") {
			t.Errorf("%s prompt lacks the whiteboard convention", r)
		}
		if !r.Valid() {
			t.Errorf("%s not valid", r)
		}
	}
	if tutor.Role("chess").Valid() {
		t.Error("unknown role reported valid")
	}
	if tutor.Role("chess").SystemPrompt() != tutor.General.SystemPrompt() {
		t.Error("unknown role does not fall back to the general prompt")
	}
	if !strings.Contains(tutor.Math.SystemPrompt(), "math tutor") {
		t.Error("math prompt missing persona")
	}
}
