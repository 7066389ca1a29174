package exec

import (
	"errors"
	"testing"
)

func TestIsSafeExecutableValue(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"ls", true},
		{"python3.11", true},
		{"/usr/bin/env", true},
		{"./relative/tool", true},
		{"~/bin/tool", true},
		{"", false},
		{"   ", false},
		{"ls; rm -rf /", false},
		{"tool`id`", false},
		{"tool$(id)", false},
		{"tool | sh", false},
		{"tool\nrm x", false},
		{"tool\x00", false},
		{`tool"quoted"`, false},
		{"-rf", false},
		{"--option", false},
	}
	for _, tc := range cases {
		if got := IsSafeExecutableValue(tc.value); got != tc.want {
			t.Errorf("IsSafeExecutableValue(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestSanitizeExecutableValue(t *testing.T) {
	if got, err := SanitizeExecutableValue("  ls  "); err != nil || got != "ls" {
		t.Fatalf("SanitizeExecutableValue = %q, %v", got, err)
	}
	if _, err := SanitizeExecutableValue(""); err == nil {
		t.Fatal("empty value should error")
	}
	if _, err := SanitizeExecutableValue("rm; ls"); err == nil {
		t.Fatal("metacharacters should error")
	}
}

func TestIsLikelyPath(t *testing.T) {
	for path, want := range map[string]bool{
		"/usr/bin/ls": true,
		"./tool":      true,
		"~/bin/x":     true,
		`C:\tools\x`:  true,
		"ls":          false,
		"python3":     false,
	} {
		if got := IsLikelyPath(path); got != want {
			t.Errorf("IsLikelyPath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestIsSafeArgument(t *testing.T) {
	// Arguments may start with dashes and contain quotes, unlike
	// executables, but metacharacters and control chars still reject.
	cases := []struct {
		arg  string
		want bool
	}{
		{"-la", true},
		{"--format=json", true},
		{"file.txt", true},
		{"", false},
		{"a;b", false},
		{"a\nb", false},
		{"a\x00b", false},
	}
	for _, tc := range cases {
		if got := IsSafeArgument(tc.arg); got != tc.want {
			t.Errorf("IsSafeArgument(%q) = %v, want %v", tc.arg, got, tc.want)
		}
	}
}

func TestSanitizeArguments_ReportsFailingIndex(t *testing.T) {
	_, err := SanitizeArguments([]string{"ok", "also ok", "bad;arg"})
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("err = %v, want *ArgumentError", err)
	}
	if argErr.Index != 2 {
		t.Fatalf("Index = %d, want 2", argErr.Index)
	}
	if !errors.Is(err, ErrArgumentShellMetachar) {
		t.Fatalf("unwrapped err = %v", err)
	}
}

func TestSanitizeArguments_NilPassesThrough(t *testing.T) {
	got, err := SanitizeArguments(nil)
	if err != nil || got != nil {
		t.Fatalf("SanitizeArguments(nil) = %v, %v", got, err)
	}
}
