package router

import (
	"errors"
	"testing"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		changed bool
		err     error
	}{
		{"/", "/", false, nil},
		{"", "/", true, nil},
		{"/blog/post", "/blog/post", false, nil},
		{"/blog/post/", "/blog/post/", false, nil},
		{"//blog///post", "/blog/post", true, nil},
		{"/blog/./post", "/blog/post", true, nil},
		{"/blog/../other", "/other", true, nil},
		{"/a/b/../../c/", "/c/", true, nil},
		{"/users/a%20b", "/users/a%20b", false, nil},
		{"/../secret", "", false, ErrPathEscapesRoot},
		{"/a\\b", "", false, ErrBackslashInPath},
		{"/a%00b", "", false, ErrNullByteInPath},
		{"/a%GGb", "", false, ErrInvalidPercentEscape},
		{"/a%2", "", false, ErrInvalidPercentEscape},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, changed, err := CleanPath(tt.in)
			if !errors.Is(err, tt.err) {
				t.Fatalf("CleanPath(%q) error = %v, want %v", tt.in, err, tt.err)
			}
			if got != tt.want || changed != tt.changed {
				t.Errorf("CleanPath(%q) = %q, %v; want %q, %v", tt.in, got, changed, tt.want, tt.changed)
			}
		})
	}
}

func TestIsLocalURL(t *testing.T) {
	tests := map[string]bool{
		"/dashboard":           true,
		"/a?b=c#d":             true,
		"/":                    true,
		"":                     false,
		"dashboard":            false,
		"//evil.example":       false,
		"/\\evil.example":      false,
		"https://evil.example": false,
		"javascript:alert(1)":  false,
	}
	for in, want := range tests {
		if got := IsLocalURL(in); got != want {
			t.Errorf("IsLocalURL(%q) = %v, want %v", in, got, want)
		}
	}
}
