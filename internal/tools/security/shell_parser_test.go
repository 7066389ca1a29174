package security

import "testing"

func TestAnalyzeCommandQuoteAware_SafeCommands(t *testing.T) {
	for _, cmd := range []string{
		"",
		"ls -la",
		"grep pattern file.txt",
		"echo 'a; b && c | d'",
		`echo "quoted > redirect"`,
		"echo '`not a subshell`'",
	} {
		analysis := AnalyzeCommandQuoteAware(cmd)
		if !analysis.IsSafe {
			t.Errorf("%q flagged unsafe: %s", cmd, analysis.Reason)
		}
	}
}

func TestAnalyzeCommandQuoteAware_DangerousTokens(t *testing.T) {
	cases := []struct {
		cmd  string
		risk string
	}{
		{"ls; rm -rf /", "command_chain"},
		{"ls && rm x", "command_chain"},
		{"cat f | sh", "pipe"},
		{"echo x > /etc/passwd", "redirect"},
		{"echo `id`", "subshell"},
		{"echo $(id)", "subshell"},
		{"sleep 100 &", "background"},
	}
	for _, tc := range cases {
		analysis := AnalyzeCommandQuoteAware(tc.cmd)
		if analysis.IsSafe {
			t.Errorf("%q should be unsafe", tc.cmd)
			continue
		}
		found := false
		for _, tok := range analysis.DangerousTokens {
			if tok.Risk == tc.risk {
				found = true
			}
		}
		if !found {
			t.Errorf("%q: missing %q risk in %v", tc.cmd, tc.risk, analysis.DangerousTokens)
		}
	}
}

func TestAnalyzeCommandQuoteAware_EscapedCharactersAreSafe(t *testing.T) {
	if analysis := AnalyzeCommandQuoteAware(`echo \; still one command`); !analysis.IsSafe {
		t.Fatalf("escaped semicolon flagged unsafe: %s", analysis.Reason)
	}
}

func TestAnalyzeCommand_IgnoresQuoting(t *testing.T) {
	// The non-quote-aware variant flags quoted metacharacters too.
	if AnalyzeCommand("echo 'a;b'").IsSafe {
		t.Fatal("plain AnalyzeCommand should flag the quoted semicolon")
	}
}

func TestIsSafeCommandAndReason(t *testing.T) {
	if !IsSafeCommand("ls -la") {
		t.Fatal("ls -la should be safe")
	}
	if IsSafeCommand("ls | wc -l") {
		t.Fatal("pipe should be unsafe")
	}
	if reason := ExtractUnsafeReason("ls | wc -l"); reason == "" {
		t.Fatal("unsafe command should carry a reason")
	}
	if reason := ExtractUnsafeReason("ls"); reason != "" {
		t.Fatalf("safe command reason = %q, want empty", reason)
	}
}

func TestContainsShellMetacharacters(t *testing.T) {
	if !ContainsShellMetacharacters("a;b") {
		t.Fatal("semicolon is a metacharacter")
	}
	if ContainsShellMetacharacters("plain-file.txt") {
		t.Fatal("plain name has no metacharacters")
	}
}

func TestIsValidFilename(t *testing.T) {
	if !IsValidFilename("notes.txt") {
		t.Fatal("notes.txt should be valid")
	}
	if IsValidFilename("../../etc/passwd") {
		t.Fatal("path traversal should be invalid")
	}
}
