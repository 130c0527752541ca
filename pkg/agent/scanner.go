package agent

import "regexp"

// ScanResult is the outcome of an injection scan. Matched lists the
// pattern family names that fired; the slice is a fresh copy per scan.
type ScanResult struct {
	Suspicious bool     `json:"suspicious"`
	Matched    []string `json:"matched,omitempty"`
}

type injectionPattern struct {
	family string
	re     *regexp.Regexp
}

var injectionPatterns = []injectionPattern{
	{"directive_override", regexp.MustCompile(`(?i)(ignore\s+(all\s+)?previous\s+instructions|disregard\s+(everything|all)\s+above|new\s+instructions\s*:)`)},
	{"role_override", regexp.MustCompile(`(?i)(you\s+are\s+now\b|act\s+as\b|pretend\s+(you're|you\s+are)\b)`)},
	{"system_prompt_exfiltration", regexp.MustCompile(`(?i)(what\s+is\s+the\s+system\s+prompt|reveal\s+(your\s+)?(system\s+)?prompt|<\|system\|>)`)},
	{"scoring_injection", regexp.MustCompile(`(?i)(set\s+is_in_scope\s*=\s*true|score\s+this\s+as\s+100|is_in_scope\s*[:=]\s*true)`)},
	{"marker_injection", regexp.MustCompile(`(?i)(\[INST\]|<\|[a-z_]+\|>)`)},
}

// Scan checks text for prompt-injection patterns. Empty input is never
// suspicious.
func Scan(text string) ScanResult {
	if text == "" {
		return ScanResult{}
	}

	var matched []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			matched = append(matched, p.family)
		}
	}

	return ScanResult{Suspicious: len(matched) > 0, Matched: matched}
}
