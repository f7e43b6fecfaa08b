package scoring

import (
	"strings"

	"voice-screening-service/internal/models"
)

// Engine applies the flag decision: threshold a normalized remote score, or
// scan the lexicon when no remote score is available.
type Engine struct {
	threshold float64
	lexicon   *Lexicon
}

// NewEngine creates a decision engine. lexicon may be nil when no fallback
// lexicon is loaded.
func NewEngine(threshold float64, lexicon *Lexicon) *Engine {
	return &Engine{threshold: threshold, lexicon: lexicon}
}

// Threshold returns the configured flagging threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Decide produces the verdict for one segment. A non-nil remote result takes
// the threshold path; nil means the remote call or normalization failed and
// the lexicon decides. With no lexicon signal the segment is reported
// unflagged with score 0; the source field still says which path ran, so
// the client can tell "measured clean" from "unmeasured".
func (e *Engine) Decide(text string, remote *Normalized) models.ScoreResult {
	if remote != nil {
		return models.ScoreResult{
			Score:   remote.Score,
			Label:   remote.Label,
			Flagged: remote.Score >= e.threshold,
			Source:  models.SourceRemote,
		}
	}

	result := models.ScoreResult{
		Score:  0.0,
		Label:  "ok",
		Source: models.SourceLexiconFallback,
	}
	if strings.TrimSpace(text) == "" {
		return result
	}
	for _, match := range e.lexicon.Scan(text) {
		result.Score = 1.0
		result.Label = "flag"
		result.Flagged = true
		if match.Severity > result.Severity {
			result.Severity = match.Severity
		}
	}
	return result
}
