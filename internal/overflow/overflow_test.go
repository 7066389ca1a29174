package overflow

import "testing"

func TestIsOverflow(t *testing.T) {
	cases := map[string]bool{
		"Error: request_too_large":                                  true,
		"the request exceeds the maximum size allowed":              true,
		"400: context length exceeded for this model":                true,
		"prompt is too long for this model":                          true,
		"maximum context length is 128000 tokens":                    true,
		"exceeds model context window of 8192":                       true,
		"413 Payload Too Large":                                      true,
		"request size exceeds the context window for this model":     true,
		"invalid api key":                                             false,
		"rate limited, try again later":                              false,
	}
	for msg, want := range cases {
		if got := IsOverflow(msg); got != want {
			t.Errorf("IsOverflow(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestLikelyOverflow_ExcludesTooSmall(t *testing.T) {
	if LikelyOverflow("context window too small for this request, minimum is 4096") {
		t.Fatalf("expected exclusion for 'too small' messages")
	}
	if !LikelyOverflow("context window limit exceeded for requested tokens") {
		t.Fatalf("expected heuristic match")
	}
}

func TestIsCompactionFailure(t *testing.T) {
	if !IsCompactionFailure("context length exceeded: auto-compaction failed") {
		t.Fatalf("expected compaction failure classification")
	}
	if IsCompactionFailure("context length exceeded") {
		t.Fatalf("plain overflow without compaction mention should not classify as compaction failure")
	}
}
