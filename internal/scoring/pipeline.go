package scoring

import (
	"context"
	"fmt"
	"time"

	"voice-screening-service/internal/models"
)

// LexiconStatus describes the fallback lexicon's startup outcome. "Not
// configured" is deliberately distinct from "failed to load": the first is a
// valid deployment choice, the second is a degraded capability.
type LexiconStatus int

const (
	LexiconNotConfigured LexiconStatus = iota
	LexiconLoaded
	LexiconFailed
)

// String returns the status name for logs and health details.
func (s LexiconStatus) String() string {
	switch s {
	case LexiconLoaded:
		return "loaded"
	case LexiconNotConfigured:
		return "not-configured"
	case LexiconFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Outcome is the scoring result for one segment plus the reason the
// fallback path ran, when it did.
type Outcome struct {
	Result models.ScoreResult
	// FallbackReason is set when the lexicon decided because the remote
	// path failed; empty for remote results.
	FallbackReason string
}

// Pipeline runs one segment through classifier call, normalization and the
// flag decision. It is shared read-only across sessions.
type Pipeline struct {
	client        *Client
	specs         *SpecSet
	engine        *Engine
	lexiconStatus LexiconStatus
	timeout       time.Duration
}

// NewPipeline wires the scoring stages together.
func NewPipeline(client *Client, specs *SpecSet, engine *Engine, lexiconStatus LexiconStatus, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Pipeline{
		client:        client,
		specs:         specs,
		engine:        engine,
		lexiconStatus: lexiconStatus,
		timeout:       timeout,
	}
}

// Score classifies one finalized segment. The remote path gets a single
// bounded attempt; on any remote or normalization failure the lexicon
// decides instead. An error is returned only when no signal at all could be
// produced (remote failed and the lexicon is not usable), in which case the
// caller reports a score_error.
func (p *Pipeline) Score(ctx context.Context, text string) (Outcome, error) {
	remoteErr := p.scoreRemote(ctx, text)
	if remoteErr.result != nil {
		return Outcome{Result: *remoteErr.result}, nil
	}

	if p.lexiconStatus != LexiconLoaded {
		return Outcome{}, fmt.Errorf("remote scoring failed (%v) and lexicon fallback is %s",
			remoteErr.err, p.lexiconStatus)
	}

	result := p.engine.Decide(text, nil)
	return Outcome{
		Result:         result,
		FallbackReason: remoteErr.err.Error(),
	}, nil
}

type remoteOutcome struct {
	result *models.ScoreResult
	err    error
}

func (p *Pipeline) scoreRemote(ctx context.Context, text string) remoteOutcome {
	if !p.client.Configured() {
		return remoteOutcome{err: ErrNotConfigured}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payload, err := p.client.Classify(ctx, text)
	if err != nil {
		return remoteOutcome{err: err}
	}

	norm, err := Normalize(payload, p.specs.Resolve(p.client.Endpoint()))
	if err != nil {
		return remoteOutcome{err: err}
	}

	result := p.engine.Decide(text, &norm)
	return remoteOutcome{result: &result}
}
