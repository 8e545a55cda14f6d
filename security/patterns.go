package security

import "regexp"

// Pattern tables are compiled once at package init and never mutated, so a
// Filter can be shared freely between goroutines.

// injectionPatterns match SQL fragments, shell command chaining, path traversal
// and script injection.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
	regexp.MustCompile(`(?i)\b(drop|truncate|alter)\s+table\b`),
	regexp.MustCompile(`(?i)\binsert\s+into\s+\w+`),
	regexp.MustCompile(`(?i)\bdelete\s+from\s+\w+`),
	regexp.MustCompile(`(?i)\bor\s+['"]?1['"]?\s*=\s*['"]?1\b`),
	regexp.MustCompile(`(?i)['"]\s*;\s*--`),
	regexp.MustCompile(`(?i)[;&|]\s*(rm|curl|wget|bash|sh|zsh|nc|netcat|chmod|chown|sudo|python|perl|cat\s+/etc)\b`),
	regexp.MustCompile(`\$\([^)]*\)`),
	regexp.MustCompile("`\\s*(rm|curl|wget|bash|sh|nc|sudo|cat)\\b[^`]*`"),
	regexp.MustCompile(`\.\.[/\\]`),
	regexp.MustCompile(`(?i)<\s*/?\s*script\b`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bon(load|error|click|mouseover|focus)\s*=`),
}

// overridePatterns match attempts to replace or reveal the system instructions.
var overridePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bignore\s+(all\s+)?(the\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules|directions)`),
	regexp.MustCompile(`(?i)\bdisregard\s+(all\s+)?(the\s+|your\s+)?(previous|prior|above)?\s*(instructions|rules|guidelines)`),
	regexp.MustCompile(`(?i)\bforget\s+(all\s+)?(your|the|previous|prior)\s+(instructions|rules|guidelines|training)`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(in\s+)?(dan|developer\s+mode|jailbroken|unrestricted)`),
	regexp.MustCompile(`(?i)\bjailbreak(ing)?\b`),
	regexp.MustCompile(`(?i)\b(reveal|show|print|repeat)\s+(me\s+)?(your\s+|the\s+)?(system\s+prompt|hidden\s+instructions|initial\s+instructions)`),
	regexp.MustCompile(`(?i)\bact\s+as\s+if\s+you\s+have\s+no\s+(restrictions|rules|guidelines|limits)`),
	regexp.MustCompile(`(?i)\boverride\s+(your\s+|the\s+)?(safety|system)\s+(settings|instructions|guardrails|prompt)`),
	regexp.MustCompile(`(?i)\bnew\s+system\s+prompt\s*:`),
}

type piiRule struct {
	name string
	re   *regexp.Regexp
}

// piiRules are applied in order; card numbers go first so their digit groups
// are not half-consumed by the phone rule.
var piiRules = []piiRule{
	{"credit_card", regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{1,4}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{"phone", regexp.MustCompile(`(?:\+?1[ .\-]?)?(?:\(\d{3}\)|\b\d{3})[ .\-]\d{3}[ .\-]\d{4}\b`)},
	{"ipv4", regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`)},
}
