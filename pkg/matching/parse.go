package matching

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Suggestion is one entry of the model's "matches" array.
type Suggestion struct {
	JobID     int64
	Score     float64
	Reasoning string
}

// Score bounds of the response schema.
const (
	MinScore = 0
	MaxScore = 100
)

type responseEnvelope struct {
	Matches *[]json.RawMessage `json:"matches"`
}

type rawSuggestion struct {
	JobID     flexNumber      `json:"jobId"`
	Score     flexNumber      `json:"score"`
	Reasoning json.RawMessage `json:"reasoning"`
}

// ParseResponse extracts the first balanced JSON object from raw model output,
// preferring the body of a ``` or ```json fence, and decodes its "matches" array.
// When the fenced body yields no usable object the whole output is scanned,
// so a closing fence inside a string value does not lose the answer.
// Entries without a readable jobId or a score in 0..100 are dropped; a missing
// object, invalid JSON or a missing "matches" key is ErrMalformedAIResponse.
func ParseResponse(raw string) ([]Suggestion, error) {
	matches, err := decodeEnvelope(stripFence(raw))
	if err != nil {
		if fallback, ferr := decodeEnvelope(raw); ferr == nil {
			matches, err = fallback, nil
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]Suggestion, 0, len(matches))
	for _, item := range matches {
		var rs rawSuggestion
		if err := json.Unmarshal(item, &rs); err != nil {
			continue
		}
		if !rs.JobID.valid || !rs.Score.valid {
			continue
		}
		id := rs.JobID.value
		// 2^63 is exactly representable; anything at or past it overflows int64.
		if id != math.Trunc(id) || id >= math.MaxInt64 || id < math.MinInt64 {
			continue
		}
		if rs.Score.value < MinScore || rs.Score.value > MaxScore {
			continue
		}
		out = append(out, Suggestion{
			JobID:     int64(id),
			Score:     rs.Score.value,
			Reasoning: reasoningText(rs.Reasoning),
		})
	}
	return out, nil
}

func decodeEnvelope(s string) ([]json.RawMessage, error) {
	obj, ok := firstObject(s)
	if !ok {
		return nil, fmt.Errorf("%w: no json object in response", ErrMalformedAIResponse)
	}
	var env responseEnvelope
	if err := json.Unmarshal([]byte(obj), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAIResponse, err)
	}
	if env.Matches == nil {
		return nil, fmt.Errorf("%w: missing matches array", ErrMalformedAIResponse)
	}
	return *env.Matches, nil
}

// stripFence returns the body of the first fenced block when it holds an
// object, otherwise the input unchanged.
func stripFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.Contains(body[:nl], "{") {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "json")
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	if !strings.Contains(body, "{") {
		return s
	}
	return body
}

// firstObject returns the first balanced {...} span. Braces inside JSON
// strings are ignored.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
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
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func reasoningText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

// flexNumber accepts 82, 82.5 or "82".
type flexNumber struct {
	value float64
	valid bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	text := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		text = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	n.value = v
	n.valid = true
	return nil
}
