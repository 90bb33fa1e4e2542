package store

import "testing"

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "install guide", "install guide"},
		{"percent", "100% done", `100\% done`},
		{"underscore", "snake_case", `snake\_case`},
		{"backslash", `C:\path`, `C:\\path`},
		{"mixed", `a_b%c\d`, `a\_b\%c\\d`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeLike(tt.input); got != tt.want {
				t.Errorf("escapeLike(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
