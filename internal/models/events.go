// Package models defines the session data model and the client-facing event
// contract.
package models

import "strconv"

// SegmentID renders a segment sequence number as the wire segment_id.
func SegmentID(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

// Event type discriminators, carried in every server-to-client message.
const (
	EventConnected  = "connected"
	EventStarted    = "started"
	EventPartial    = "partial"
	EventSegment    = "segment"
	EventScore      = "score"
	EventScoreError = "score_error"
	EventError      = "error"
	EventFinal      = "final"
)

// Score sources, reported so the client can tell a measured remote score from
// a local fallback verdict.
const (
	SourceRemote          = "remote"
	SourceLexiconFallback = "lexicon-fallback"
)

// TranscriptSegment is one finalized utterance. Sequence numbers are strictly
// increasing within a session; the segment is produced exactly once and never
// mutated.
type TranscriptSegment struct {
	Seq       uint64 `json:"seq"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ScoreResult is the normalized scoring outcome for one segment. Score is
// always within [0, 1].
type ScoreResult struct {
	Score   float64 `json:"score"`
	Label   string  `json:"label,omitempty"`
	Flagged bool    `json:"flagged"`
	Source  string  `json:"source"`
	// Severity is the 1..5 rank of the strongest matched lexicon term,
	// zero for remote scores.
	Severity int `json:"severity,omitempty"`
}

// ConnectedEvent greets the client after the connection is accepted.
type ConnectedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StartedEvent acknowledges a start control message with the negotiated
// sample rate.
type StartedEvent struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
}

// PartialEvent carries an interim, revisable transcription hypothesis.
type PartialEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SegmentEvent carries one finalized utterance. SegmentID is the decimal
// sequence number and correlates later score events to this segment.
type SegmentEvent struct {
	Type      string `json:"type"`
	SegmentID string `json:"segment_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ScoreEvent carries the scoring verdict for a previously emitted segment.
// Flagged is always present, explicitly false for clean segments.
type ScoreEvent struct {
	Type      string  `json:"type"`
	SegmentID string  `json:"segment_id"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	Label     string  `json:"label,omitempty"`
	Severity  int     `json:"severity"`
	Flagged   bool    `json:"flagged"`
	Source    string  `json:"source"`
	// Reason explains why scoring fell back to the lexicon, empty for
	// remote scores.
	Reason string `json:"reason,omitempty"`
}

// ScoreErrorEvent reports that no scoring signal could be produced for a
// segment.
type ScoreErrorEvent struct {
	Type      string `json:"type"`
	SegmentID string `json:"segment_id"`
	Text      string `json:"text"`
	Error     string `json:"error"`
}

// ErrorEvent reports a recoverable session error; the session continues.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// FinalEvent is emitted once at session end with the concatenation of all
// finalized segments.
type FinalEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}
