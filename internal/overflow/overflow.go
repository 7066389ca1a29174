// Package overflow classifies provider errors: a pure
// string-pattern matcher over a provider error message, used by the
// dispatch loop to decide whether to trigger compaction and retry.
package overflow

import "regexp"

var exactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)request_too_large`),
	regexp.MustCompile(`(?i)request exceeds the maximum size`),
	regexp.MustCompile(`(?i)context length exceeded`),
	regexp.MustCompile(`(?i)maximum context length`),
	regexp.MustCompile(`(?i)prompt is too long`),
	regexp.MustCompile(`(?i)exceeds model context window`),
	regexp.MustCompile(`(?i)context overflow`),
	regexp.MustCompile(`(?i)413.*too large`),
}

var compositeRequestSize = regexp.MustCompile(`(?i)request size exceeds`)
var compositeContext = regexp.MustCompile(`(?i)context window|context length`)

var likelyOverflowPattern = regexp.MustCompile(`(?i)context window.*(too large|exceed|limit|max|requested|tokens)`)
var likelyOverflowExclusion = regexp.MustCompile(`(?i)context window too small|minimum is`)

var compactionFailurePattern = regexp.MustCompile(`(?i)summarization failed|compaction failed|auto-compaction|compaction`)

// IsOverflow classifies an error message as a context-overflow error
// against a fixed pattern list.
func IsOverflow(message string) bool {
	for _, p := range exactPatterns {
		if p.MatchString(message) {
			return true
		}
	}
	return compositeRequestSize.MatchString(message) && compositeContext.MatchString(message)
}

// LikelyOverflow applies the broader heuristic pattern, for providers whose
// error text doesn't match one of the exact known phrasings. It excludes
// "context window too small"/"minimum is" messages, which describe the
// opposite failure (a window too small, not exceeded).
func LikelyOverflow(message string) bool {
	if likelyOverflowExclusion.MatchString(message) {
		return false
	}
	return likelyOverflowPattern.MatchString(message)
}

// IsCompactionFailure reports whether message describes an overflow that
// happened because compaction itself failed: it must both classify as an
// overflow and name a summarization/compaction failure.
func IsCompactionFailure(message string) bool {
	return IsOverflow(message) && compactionFailurePattern.MatchString(message)
}
