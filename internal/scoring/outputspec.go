// Package scoring turns finalized transcript segments into flagging
// verdicts: it calls the remote classifier, normalizes its heterogeneous
// response shapes into one canonical [0,1] score, and falls back to a local
// lexicon scan when the remote path is unavailable.
package scoring

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// Score types understood by the normalizer.
const (
	ScoreTypeProbability = "probability_0_1"
	ScoreTypePercent     = "percent_0_100"
	ScoreTypeLogit       = "logit"
	ScoreTypeNone        = "none"
)

// OutputSpec describes how one classifier endpoint's response is
// interpreted: where the score lives, its numeric representation, and the
// optional label corroboration.
type OutputSpec struct {
	// ScoreType is one of the ScoreType constants. Unknown values behave
	// like "none".
	ScoreType string `json:"score_type"`
	// ScoreField is a dotted path to the numeric score; numeric path
	// segments index into arrays. Empty enables default extraction.
	ScoreField string `json:"score_field"`
	// LabelField is a dotted path to a classification label.
	LabelField string `json:"label_field"`
	// PositiveClass is the label value meaning "violation", compared
	// case-insensitively.
	PositiveClass string `json:"positive_class"`
}

// SpecSet holds the global default spec plus per-endpoint overrides. Loaded
// once at startup, immutable afterwards. An override replaces the whole spec
// for its endpoint; there is no per-field merge.
type SpecSet struct {
	def       OutputSpec
	overrides map[string]OutputSpec
}

// NewSpecSet builds a SpecSet from the global default and raw per-endpoint
// override JSON. Unparseable overrides are skipped with a warning so one bad
// entry cannot take down every endpoint.
func NewSpecSet(def OutputSpec, rawOverrides map[string]json.RawMessage) *SpecSet {
	def.ScoreType = strings.ToLower(def.ScoreType)
	set := &SpecSet{def: def}
	if len(rawOverrides) == 0 {
		return set
	}
	set.overrides = make(map[string]OutputSpec, len(rawOverrides))
	for endpoint, raw := range rawOverrides {
		var spec OutputSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			log.Warn().Str("endpoint", endpoint).Err(err).
				Msg("Skipping unparseable endpoint output spec override")
			continue
		}
		// Score types compare lowercased, as the env loader does for the
		// global default.
		spec.ScoreType = strings.ToLower(spec.ScoreType)
		set.overrides[endpoint] = spec
	}
	return set
}

// Resolve returns the spec for the named endpoint: the override when one
// exists, otherwise the global default.
func (s *SpecSet) Resolve(endpoint string) OutputSpec {
	if spec, ok := s.overrides[endpoint]; ok {
		return spec
	}
	return s.def
}
