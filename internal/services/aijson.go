package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tbourn/go-tutor-backend/internal/ai/orchestrator"
)

// Orchestrator is the AI entry point the role services call.
type Orchestrator interface {
	Orchestrate(ctx context.Context, userID string, req orchestrator.Request) (*orchestrator.Response, error)
}

// errMalformedOutput marks model output that could not be decoded. It never
// leaves this package: every caller substitutes its own fallback.
var errMalformedOutput = errors.New("malformed ai output")

// decodeAIJSON decodes a JSON object from model output, tolerating Markdown
// code fences and prose around the object.
func decodeAIJSON(raw string, v any) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return errMalformedOutput
	}
	if err := json.Unmarshal([]byte(stripFence(s)), v); err == nil {
		return nil
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return errMalformedOutput
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return errors.Join(errMalformedOutput, err)
	}
	return nil
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// head returns at most n runes of s.
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
