package utils

import "testing"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.COM/Path", "https://example.com/Path"},
		{"  https://example.com/a#section  ", "https://example.com/a"},
		{"HTTP://example.com/?q=1", "http://example.com/?q=1"},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHashURLSharesSpellings(t *testing.T) {
	a := HashURL("https://EXAMPLE.com/page#top")
	b := HashURL("https://example.com/page")
	if a != b {
		t.Errorf("HashURL differs for equivalent URLs: %s vs %s", a, b)
	}
	if HashURL("https://example.com/other") == b {
		t.Error("HashURL collides for different paths")
	}
	if len(HashString("x")) != 64 {
		t.Errorf("HashString length = %d, want 64", len(HashString("x")))
	}
}
