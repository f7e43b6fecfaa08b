package scoring

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// probabilityTolerance is how far outside [0,1] a probability_0_1 value may
// stray before normalization rejects it instead of clamping.
const probabilityTolerance = 0.01

// ErrMissingScore indicates no usable numeric or label signal could be
// located in the classifier response. The caller must fall back to lexicon
// scoring.
var ErrMissingScore = errors.New("no usable score in classifier response")

// Normalized is the outcome of score normalization: a canonical score in
// [0,1] and the extracted label, when one was present.
type Normalized struct {
	Score float64
	Label string
}

// Normalize reconciles a decoded classifier response payload into the
// canonical score contract using spec. It is deterministic: the same payload
// and spec always yield the same score. It fails only when no numeric or
// label signal can be located.
func Normalize(payload any, spec OutputSpec) (Normalized, error) {
	raw, hasRaw := extractRawScore(payload, spec)

	label := extractLabel(payload, spec)

	score, hasScore, err := applyScoreType(raw, hasRaw, label != "", spec.ScoreType)
	if err != nil {
		return Normalized{}, err
	}

	if spec.LabelField != "" && spec.PositiveClass != "" && label != "" {
		if strings.EqualFold(label, spec.PositiveClass) {
			// A present numeric score is corroborated, not overridden.
			if !hasScore {
				score, hasScore = 1.0, true
			}
		} else if !hasScore {
			score, hasScore = 0.0, true
		}
	}

	if !hasScore {
		return Normalized{}, ErrMissingScore
	}
	return Normalized{Score: clamp01(score), Label: label}, nil
}

// extractRawScore locates the numeric score. With a configured score_field
// the value must live at that path; otherwise the default probe order is a
// bare numeric payload, a top-level "score" field, then a single-element
// numeric array.
func extractRawScore(payload any, spec OutputSpec) (float64, bool) {
	if spec.ScoreField != "" {
		return asNumber(extractPath(payload, spec.ScoreField))
	}

	if v, ok := asNumber(payload); ok {
		return v, true
	}
	if m, ok := payload.(map[string]any); ok {
		if v, ok := asNumber(m["score"]); ok {
			return v, true
		}
	}
	if list, ok := payload.([]any); ok && len(list) == 1 {
		if v, ok := asNumber(list[0]); ok {
			return v, true
		}
	}
	return 0, false
}

func extractLabel(payload any, spec OutputSpec) string {
	if spec.LabelField == "" {
		return ""
	}
	v := extractPath(payload, spec.LabelField)
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// applyScoreType maps the raw extracted value into [0,1] according to the
// configured representation. hasLabel suppresses binarization under "none"
// so the label path can decide.
func applyScoreType(raw float64, hasRaw, hasLabel bool, scoreType string) (float64, bool, error) {
	if !hasRaw {
		return 0, false, nil
	}
	switch scoreType {
	case ScoreTypeProbability:
		if raw < -probabilityTolerance || raw > 1+probabilityTolerance {
			return 0, false, fmt.Errorf("%w: probability %g outside [0,1]", ErrMissingScore, raw)
		}
		return raw, true, nil
	case ScoreTypePercent:
		return raw / 100, true, nil
	case ScoreTypeLogit:
		return sigmoid(raw), true, nil
	default:
		// "none" and unrecognized types: the value is a 0/1 decision
		// unless a label is configured to decide instead.
		if hasLabel {
			return 0, false, nil
		}
		if raw >= 0.5 {
			return 1.0, true, nil
		}
		return 0.0, true, nil
	}
}

// extractPath resolves a dotted path over a decoded JSON tree. Numeric
// segments index into arrays; a non-numeric segment applied to an array
// descends into its first element.
func extractPath(payload any, path string) any {
	current := payload
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			current = node[segment]
		case []any:
			if idx, err := strconv.Atoi(segment); err == nil {
				if idx < 0 || idx >= len(node) {
					return nil
				}
				current = node[idx]
				continue
			}
			if len(node) == 0 {
				return nil
			}
			first, ok := node[0].(map[string]any)
			if !ok {
				return nil
			}
			current = first[segment]
		default:
			return nil
		}
	}
	return current
}

// asNumber accepts the numeric shapes encoding/json can decode into an any
// tree. Booleans are deliberately not numbers.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// sigmoid is the numerically stable logistic transform.
func sigmoid(x float64) float64 {
	if x >= 0 {
		z := math.Exp(-x)
		return 1 / (1 + z)
	}
	z := math.Exp(x)
	return z / (1 + z)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
