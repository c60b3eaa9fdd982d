package oracle

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?i)^```(json)?|```$")

// StripFences removes markdown code-fence markup the oracle tends to wrap
// structured output in.
func StripFences(text string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(strings.TrimSpace(text), ""))
}

// ExtractJSON best-effort parses a JSON object out of completion text.
// It first tries the fence-stripped text as-is, then the outermost {...}
// span. The second return is false when no object could be recovered;
// callers substitute their documented fallback value instead of erroring.
func ExtractJSON(text string) (map[string]any, bool) {
	cleaned := StripFences(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err == nil {
		return obj, true
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// StringField reads a string out of a decoded JSON object, tolerating
// missing keys and wrong types.
func StringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// BoolField reads a bool out of a decoded JSON object.
func BoolField(obj map[string]any, key string) bool {
	v, _ := obj[key].(bool)
	return v
}
