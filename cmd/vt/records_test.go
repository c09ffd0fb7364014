package main

import "testing"

// Snapshots written by other tools can carry IDs of any length, so
// abbreviation must never slice past the end.
func TestShortID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"uuid", "b1e6f3a0-4c2d-4f7e-9a1b-8d0c5e2f4a6b", "b1e6f3a0"},
		{"exactly eight", "12345678", "12345678"},
		{"shorter than eight", "abc", "abc"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shortID(tt.id); got != tt.want {
				t.Errorf("shortID(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
