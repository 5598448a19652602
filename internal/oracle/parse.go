package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

// rawDecision is the fixed schema the model must answer with. Fields are
// loosely typed so that malformed values degrade instead of failing the
// whole decode.
type rawDecision struct {
	Decision   any `json:"decision"`
	Confidence any `json:"confidence"`
	Reasoning  any `json:"reasoning"`
}

// ParseDecision converts free-form model output into a Decision. Output with
// no JSON object, or one that does not decode, becomes an error decision.
func ParseDecision(text string) domain.Decision {
	span, ok := firstJSONObject(text)
	if !ok {
		return parseFailure(text)
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(span), &raw); err != nil {
		return parseFailure(text)
	}

	// Only the exact lowercase values are binding; "YES" or " no" is off-schema.
	decision, _ := raw.Decision.(string)
	return domain.Decision{
		Kind:       domain.ParseDecisionKind(decision),
		Confidence: clampConfidence(raw.Confidence),
		Reasoning:  stringify(raw.Reasoning),
	}
}

func parseFailure(text string) domain.Decision {
	return domain.ErrorDecision("Failed to parse AI response: " + truncate(text, 200))
}

// firstJSONObject returns the first balanced {...} span in s. Braces inside
// JSON strings are ignored.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		if end, ok := matchBrace(s, start); ok {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func clampConfidence(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	return math.Min(1, math.Max(0, f))
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
