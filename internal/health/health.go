// Package health aggregates capability checks for the screening service.
// Each capability is reported independently so a degraded deployment (say,
// no classifier credentials) still shows exactly which paths work.
package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"voice-screening-service/internal/scoring"
)

// Check reports one capability: available plus a reason when it is not.
type Check func(ctx context.Context) (bool, string)

// Report is the health response payload.
type Report struct {
	Status              string            `json:"status"`
	VoskModelLoaded     bool              `json:"vosk_model_loaded"`
	DatabricksReachable bool              `json:"databricks_reachable"`
	FlagTermsLoaded     bool              `json:"flag_terms_loaded"`
	Details             map[string]string `json:"details,omitempty"`
}

// Aggregator runs the three capability checks. Checks never panic and never
// fail each other; a missing check reports unavailable.
type Aggregator struct {
	recognizer    Check
	classifier    Check
	lexiconStatus scoring.LexiconStatus
	lexiconCount  int
}

// New creates a health aggregator.
func New(recognizer, classifier Check, lexiconStatus scoring.LexiconStatus, lexiconCount int) *Aggregator {
	return &Aggregator{
		recognizer:    recognizer,
		classifier:    classifier,
		lexiconStatus: lexiconStatus,
		lexiconCount:  lexiconCount,
	}
}

// Evaluate runs all checks and assembles the report. Status is "ok" only
// when every capability is available, "degraded" otherwise.
func (a *Aggregator) Evaluate(ctx context.Context) Report {
	report := Report{Details: map[string]string{}}

	report.VoskModelLoaded, report.Details["recognizer"] = run(ctx, a.recognizer)
	report.DatabricksReachable, report.Details["classifier"] = run(ctx, a.classifier)

	report.Details["flag_terms"] = a.lexiconStatus.String()
	report.FlagTermsLoaded = a.lexiconStatus == scoring.LexiconLoaded
	if report.FlagTermsLoaded && a.lexiconCount == 0 {
		report.Details["flag_terms"] = "loaded (empty)"
	}

	report.Status = "ok"
	if !report.VoskModelLoaded || !report.DatabricksReachable || !report.FlagTermsLoaded {
		report.Status = "degraded"
	}

	for name, detail := range report.Details {
		if detail == "" {
			delete(report.Details, name)
		}
	}
	return report
}

func run(ctx context.Context, check Check) (bool, string) {
	if check == nil {
		return false, "not configured"
	}
	return check(ctx)
}

// Handler serves the report as JSON. Degraded deployments still answer 200:
// the endpoint reports capabilities, liveness is a separate route.
func (a *Aggregator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := a.Evaluate(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Error().Err(err).Msg("Failed to encode health report")
		}
	}
}
