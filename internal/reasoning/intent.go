package reasoning

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	BiasLong    = "long"
	BiasShort   = "short"
	BiasHold    = "hold"
	BiasNeutral = "neutral"
	BiasClose   = "close"
)

// Intent is the structured output of one model call.
type Intent struct {
	Bias       string   `json:"bias"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Leverage   *float64 `json:"leverage,omitempty"`
}

// IsEntry reports whether the bias asks for a directional position.
func (i Intent) IsEntry() bool {
	return i.Bias == BiasLong || i.Bias == BiasShort
}

// ResponseContract is appended to every strategy prompt.
const ResponseContract = `Respond with a single JSON object and nothing else:
{"bias": "long" | "short" | "hold" | "neutral" | "close", "confidence": number between 0 and 1, "reasoning": string, "leverage": optional number}`

type rawIntent struct {
	Bias       string `json:"bias"`
	Action     string `json:"action"`
	Confidence any    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
	Rationale  string `json:"rationale"`
	Leverage   any    `json:"leverage"`
}

// ParseIntent extracts the first JSON object in text and normalizes it.
func ParseIntent(text string) (Intent, error) {
	start := strings.Index(text, "{")
	if start < 0 {
		return Intent{}, fmt.Errorf("reasoning: no json object in response")
	}
	var raw rawIntent
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if err := dec.Decode(&raw); err != nil {
		return Intent{}, fmt.Errorf("reasoning: decode intent: %w", err)
	}

	bias := raw.Bias
	if strings.TrimSpace(bias) == "" {
		bias = raw.Action
	}
	norm, err := NormalizeBias(bias)
	if err != nil {
		return Intent{}, err
	}
	out := Intent{Bias: norm, Reasoning: strings.TrimSpace(raw.Reasoning)}
	if out.Reasoning == "" {
		out.Reasoning = strings.TrimSpace(raw.Rationale)
	}
	if v, ok := number(raw.Confidence); ok {
		out.Confidence = ClampConfidence(v)
	}
	if v, ok := number(raw.Leverage); ok && v > 0 {
		out.Leverage = &v
	}
	return out, nil
}

func NormalizeBias(bias string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(bias)) {
	case "long", "buy", "bullish":
		return BiasLong, nil
	case "short", "sell", "bearish":
		return BiasShort, nil
	case "hold", "wait":
		return BiasHold, nil
	case "neutral", "none", "":
		return BiasNeutral, nil
	case "close", "exit", "flat":
		return BiasClose, nil
	}
	return "", fmt.Errorf("reasoning: unknown bias %q", bias)
}

// ClampConfidence maps percentages onto [0,1].
func ClampConfidence(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v > 1 {
		v = v / 100
	}
	return math.Min(v, 1)
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		return f, err == nil
	}
	return 0, false
}
