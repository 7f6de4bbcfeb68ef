package audit

import (
	"regexp"
	"slices"
)

// Value patterns replaced by RedactString. Order matters: SSN and card
// numbers are masked before the looser phone pattern can consume them.
var redactPatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`), "[email]"},
	{regexp.MustCompile(`\b\d{6}-\d{7}\b`), "[ssn]"},
	{regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "[card]"},
	{regexp.MustCompile(`\b\d{2,3}-?\d{3,4}-?\d{4}\b`), "[phone]"},
}

// Key-path patterns that mark a field as PII.
var fieldPatterns = []struct {
	re    *regexp.Regexp
	field string
}{
	{regexp.MustCompile(`(?i)email`), "email"},
	{regexp.MustCompile(`(?i)phone`), "phone"},
	{regexp.MustCompile(`(?i)address`), "address"},
	{regexp.MustCompile(`(?i)name`), "name"},
	{regexp.MustCompile(`(?i)ssn|resident`), "ssn"},
	{regexp.MustCompile(`(?i)card|credit`), "card"},
}

// RedactString masks emails, phone numbers, resident registration numbers
// and card numbers.
func RedactString(s string) string {
	for _, p := range redactPatterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}

// DetectFields returns the PII categories whose patterns match any dotted
// key path in m, in first-seen order. Nested maps are walked; arrays are
// not.
func DetectFields(m map[string]any) []string {
	var fields []string
	var walk func(m map[string]any, prefix string)
	walk = func(m map[string]any, prefix string) {
		for _, key := range sortedKeys(m) {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			for _, p := range fieldPatterns {
				if p.re.MatchString(path) && !slices.Contains(fields, p.field) {
					fields = append(fields, p.field)
				}
			}
			if nested, ok := m[key].(map[string]any); ok {
				walk(nested, path)
			}
		}
	}
	walk(m, "")
	return fields
}

// RedactValue returns a deep copy of v with every string passed through
// RedactString.
func RedactValue(v any) any {
	switch t := v.(type) {
	case string:
		return RedactString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = RedactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = RedactValue(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = RedactString(val)
		}
		return out
	default:
		return v
	}
}

// ProcessPII detects PII field names in m and, when any are found, returns
// a redacted copy. m is never modified.
func ProcessPII(m map[string]any) (map[string]any, []string) {
	fields := DetectFields(m)
	if len(fields) == 0 {
		return m, nil
	}
	return RedactValue(m).(map[string]any), fields
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
