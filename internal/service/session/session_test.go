package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voice-screening-service/internal/events"
	"voice-screening-service/internal/models"
	"voice-screening-service/internal/scoring"
	"voice-screening-service/internal/service/stt"
	"voice-screening-service/internal/service/stt/mock"
)

// nonSilentFrame advances the mock recognizer script by one step.
var nonSilentFrame = []byte{0x01, 0x00}

func lexiconPipeline(terms ...string) *scoring.Pipeline {
	// Unconfigured classifier client: every segment takes the lexicon
	// fallback path, instantly and without network.
	return scoring.NewPipeline(
		scoring.NewClient(scoring.ClientConfig{}),
		scoring.NewSpecSet(scoring.OutputSpec{ScoreType: scoring.ScoreTypeNone}, nil),
		scoring.NewEngine(0.7, scoring.NewLexicon(terms...)),
		scoring.LexiconLoaded,
		time.Second,
	)
}

func newTestSession(script []mock.Utterance, terms ...string) *Session {
	return New(Options{
		ID: "test-session",
		NewAdapter: func(int) (stt.Adapter, error) {
			return mock.NewScripted(script), nil
		},
		Pipeline:  lexiconPipeline(terms...),
		Publisher: events.New(&events.Config{Enabled: false}),
		Logger:    zerolog.Nop(),
	})
}

func start(t *testing.T, s *Session) {
	t.Helper()
	if err := s.HandleControl([]byte(`{"type":"start"}`)); err != nil {
		t.Fatalf("start failed: %v", err)
	}
}

func stopAndCollect(t *testing.T, s *Session) []any {
	t.Helper()
	if err := s.HandleControl([]byte(`{"type":"stop"}`)); !errors.Is(err, ErrSessionComplete) {
		t.Fatalf("expected ErrSessionComplete, got %v", err)
	}
	s.Close()

	var got []any
	for ev := range s.Events() {
		got = append(got, ev)
	}
	return got
}

func eventTypes(got []any) []string {
	var types []string
	for _, ev := range got {
		switch e := ev.(type) {
		case models.ConnectedEvent:
			types = append(types, e.Type)
		case models.StartedEvent:
			types = append(types, e.Type)
		case models.PartialEvent:
			types = append(types, e.Type)
		case models.SegmentEvent:
			types = append(types, e.Type)
		case models.ScoreEvent:
			types = append(types, e.Type)
		case models.ScoreErrorEvent:
			types = append(types, e.Type)
		case models.ErrorEvent:
			types = append(types, e.Type)
		case models.FinalEvent:
			types = append(types, e.Type)
		}
	}
	return types
}

func TestSession_ConnectedGreeting(t *testing.T) {
	s := newTestSession(nil)
	defer s.Close()

	select {
	case ev := <-s.Events():
		connected, ok := ev.(models.ConnectedEvent)
		if !ok {
			t.Fatalf("expected connected event first, got %T", ev)
		}
		if connected.Type != models.EventConnected {
			t.Errorf("unexpected type %q", connected.Type)
		}
	default:
		t.Fatal("expected a queued connected event")
	}
}

func TestSession_StartAcknowledged(t *testing.T) {
	s := newTestSession(nil)
	defer s.Close()

	<-s.Events() // connected
	start(t, s)

	ev := <-s.Events()
	started, ok := ev.(models.StartedEvent)
	if !ok {
		t.Fatalf("expected started event, got %T", ev)
	}
	if started.SampleRate != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", started.SampleRate)
	}
	if s.State() != StateListening {
		t.Errorf("expected StateListening, got %v", s.State())
	}
}

func TestSession_StartWithSampleRate(t *testing.T) {
	s := newTestSession(nil)
	defer s.Close()

	<-s.Events()
	if err := s.HandleControl([]byte(`{"type":"start","sample_rate":8000}`)); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	started, ok := (<-s.Events()).(models.StartedEvent)
	if !ok || started.SampleRate != 8000 {
		t.Errorf("expected started with 8000, got %+v", started)
	}
}

func TestSession_InvalidSampleRateRejected(t *testing.T) {
	s := newTestSession(nil)
	defer s.Close()

	<-s.Events()
	if err := s.HandleControl([]byte(`{"type":"start","sample_rate":100}`)); err != nil {
		t.Fatalf("expected non-fatal rejection, got %v", err)
	}

	if _, ok := (<-s.Events()).(models.ErrorEvent); !ok {
		t.Error("expected an error event")
	}
	if s.State() != StateIdle {
		t.Errorf("expected session to stay idle, got %v", s.State())
	}
}

func TestSession_AudioBeforeStartRejected(t *testing.T) {
	s := newTestSession(nil)
	defer s.Close()

	<-s.Events()
	if err := s.HandleAudio(nonSilentFrame); err != nil {
		t.Fatalf("expected non-fatal rejection, got %v", err)
	}

	if _, ok := (<-s.Events()).(models.ErrorEvent); !ok {
		t.Error("expected an error event")
	}

	// The session is still usable.
	start(t, s)
	if s.State() != StateListening {
		t.Errorf("expected StateListening, got %v", s.State())
	}
}

func TestSession_MalformedAndUnknownControl(t *testing.T) {
	s := newTestSession(nil)
	defer s.Close()

	<-s.Events()
	for _, raw := range []string{`{nope`, `{"type":"dance"}`} {
		if err := s.HandleControl([]byte(raw)); err != nil {
			t.Fatalf("%s: expected non-fatal error, got %v", raw, err)
		}
		if _, ok := (<-s.Events()).(models.ErrorEvent); !ok {
			t.Errorf("%s: expected an error event", raw)
		}
	}
}

func TestSession_DoubleStartRejected(t *testing.T) {
	s := newTestSession(nil)
	defer s.Close()

	<-s.Events()
	start(t, s)
	<-s.Events() // started

	if err := s.HandleControl([]byte(`{"type":"start"}`)); err != nil {
		t.Fatalf("expected non-fatal rejection, got %v", err)
	}
	if _, ok := (<-s.Events()).(models.ErrorEvent); !ok {
		t.Error("expected an error event")
	}
}

func TestSession_StopBeforeStartRejected(t *testing.T) {
	s := newTestSession(nil)
	defer s.Close()

	<-s.Events()
	if err := s.HandleControl([]byte(`{"type":"stop"}`)); err != nil {
		t.Fatalf("expected non-fatal rejection, got %v", err)
	}
	if _, ok := (<-s.Events()).(models.ErrorEvent); !ok {
		t.Error("expected an error event")
	}
}

func TestSession_InvalidFrameRejected(t *testing.T) {
	s := newTestSession(mock.DefaultUtterances)
	defer s.Close()

	<-s.Events()
	start(t, s)
	<-s.Events()

	// Odd byte count cannot be 16-bit PCM.
	if err := s.HandleAudio([]byte{0x01}); err != nil {
		t.Fatalf("expected non-fatal rejection, got %v", err)
	}
	if _, ok := (<-s.Events()).(models.ErrorEvent); !ok {
		t.Error("expected an error event")
	}

	// The next valid frame still advances recognition.
	if err := s.HandleAudio(nonSilentFrame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := (<-s.Events()).(models.PartialEvent); !ok {
		t.Error("expected a partial event after the valid frame")
	}
}

func TestSession_PartialSegmentScoreFlow(t *testing.T) {
	script := []mock.Utterance{
		{Partials: []string{"this is"}, Final: "this is a badword here"},
	}
	s := newTestSession(script, "badword")

	start(t, s)
	for i := 0; i < 2; i++ {
		if err := s.HandleAudio(nonSilentFrame); err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
	}
	got := stopAndCollect(t, s)

	var partial *models.PartialEvent
	var segment *models.SegmentEvent
	var score *models.ScoreEvent
	var final *models.FinalEvent
	for _, ev := range got {
		switch e := ev.(type) {
		case models.PartialEvent:
			partial = &e
		case models.SegmentEvent:
			segment = &e
		case models.ScoreEvent:
			score = &e
		case models.FinalEvent:
			final = &e
		case models.ScoreErrorEvent:
			t.Errorf("unexpected score_error: %+v", e)
		}
	}

	if partial == nil || partial.Text != "this is" {
		t.Errorf("expected partial 'this is', got %+v", partial)
	}
	if segment == nil {
		t.Fatal("expected a segment event")
	}
	if segment.SegmentID != "1" || segment.Text != "this is a badword here" {
		t.Errorf("unexpected segment: %+v", segment)
	}
	if segment.Timestamp == 0 {
		t.Error("expected a segment timestamp")
	}
	if score == nil {
		t.Fatal("expected a score event")
	}
	if score.SegmentID != "1" || !score.Flagged || score.Score != 1.0 {
		t.Errorf("unexpected score: %+v", score)
	}
	if score.Source != models.SourceLexiconFallback {
		t.Errorf("expected fallback source, got %q", score.Source)
	}
	if score.Reason == "" {
		t.Error("expected a fallback reason")
	}
	if final == nil || final.Transcript != "this is a badword here" {
		t.Errorf("unexpected final: %+v", final)
	}
}

func TestSession_CleanSegmentReportsUnflagged(t *testing.T) {
	script := []mock.Utterance{
		{Final: "a perfectly fine sentence"},
	}
	s := newTestSession(script, "badword")

	start(t, s)
	if err := s.HandleAudio(nonSilentFrame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := stopAndCollect(t, s)

	var score *models.ScoreEvent
	for _, ev := range got {
		if e, ok := ev.(models.ScoreEvent); ok {
			score = &e
		}
	}
	if score == nil {
		t.Fatal("expected a score event")
	}
	if score.Flagged || score.Score != 0.0 {
		t.Errorf("expected explicit unflagged verdict, got %+v", score)
	}
}

func TestSession_SequenceStrictlyIncreasing(t *testing.T) {
	s := newTestSession(mock.DefaultUtterances)

	start(t, s)
	// Walk the whole default script: partials plus finals.
	for i := 0; i < 10; i++ {
		if err := s.HandleAudio(nonSilentFrame); err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
	}
	got := stopAndCollect(t, s)

	var segmentIDs []string
	scoreIDs := map[string]int{}
	for _, ev := range got {
		switch e := ev.(type) {
		case models.SegmentEvent:
			segmentIDs = append(segmentIDs, e.SegmentID)
		case models.ScoreEvent:
			scoreIDs[e.SegmentID]++
		}
	}

	if len(segmentIDs) != 3 {
		t.Fatalf("expected 3 segments, got %v", segmentIDs)
	}
	for i, id := range segmentIDs {
		if want := models.SegmentID(uint64(i + 1)); id != want {
			t.Errorf("segment %d: expected id %q, got %q", i, want, id)
		}
	}

	// Exactly one verdict per segment.
	for _, id := range segmentIDs {
		if scoreIDs[id] != 1 {
			t.Errorf("segment %q: expected exactly one score event, got %d", id, scoreIDs[id])
		}
	}
	if len(scoreIDs) != len(segmentIDs) {
		t.Errorf("score events for unknown segments: %v", scoreIDs)
	}

	// The recorded segments mirror the emitted events, in order.
	segments := s.Segments()
	if len(segments) != len(segmentIDs) {
		t.Fatalf("expected %d recorded segments, got %d", len(segmentIDs), len(segments))
	}
	for i, seg := range segments {
		if seg.Seq != uint64(i+1) {
			t.Errorf("recorded segment %d: expected seq %d, got %d", i, i+1, seg.Seq)
		}
		if seg.Text == "" {
			t.Errorf("recorded segment %d has empty text", i)
		}
	}
}

func TestSession_StopFinalizesTailPartial(t *testing.T) {
	script := []mock.Utterance{
		{Partials: []string{"first"}, Final: "first utterance done"},
		{Partials: []string{"trailing words"}, Final: "never reached"},
	}
	s := newTestSession(script)

	start(t, s)
	// Two frames finish the first utterance, the third leaves a pending
	// partial.
	for i := 0; i < 3; i++ {
		if err := s.HandleAudio(nonSilentFrame); err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
	}
	got := stopAndCollect(t, s)

	var final *models.FinalEvent
	var segments []models.SegmentEvent
	for _, ev := range got {
		switch e := ev.(type) {
		case models.SegmentEvent:
			segments = append(segments, e)
		case models.FinalEvent:
			final = &e
		}
	}

	if len(segments) != 2 {
		t.Fatalf("expected the tail partial to become a segment, got %v", segments)
	}
	if segments[1].Text != "trailing words" {
		t.Errorf("unexpected tail segment text %q", segments[1].Text)
	}
	if final == nil || final.Transcript != "first utterance done trailing words" {
		t.Errorf("unexpected final transcript: %+v", final)
	}
}

func TestSession_FinalEventIsLast(t *testing.T) {
	s := newTestSession(mock.DefaultUtterances)

	start(t, s)
	for i := 0; i < 3; i++ {
		if err := s.HandleAudio(nonSilentFrame); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	got := stopAndCollect(t, s)

	types := eventTypes(got)
	if len(types) == 0 {
		t.Fatal("expected events")
	}
	if types[len(types)-1] != models.EventFinal {
		t.Errorf("expected final event last, got order %v", types)
	}
}

func TestSession_ScoreErrorWithoutAnySignal(t *testing.T) {
	pipeline := scoring.NewPipeline(
		scoring.NewClient(scoring.ClientConfig{}),
		scoring.NewSpecSet(scoring.OutputSpec{ScoreType: scoring.ScoreTypeNone}, nil),
		scoring.NewEngine(0.7, nil),
		scoring.LexiconNotConfigured,
		time.Second,
	)
	s := New(Options{
		ID:         "test-session",
		NewAdapter: mock.Factory(),
		Pipeline:   pipeline,
		Publisher:  events.New(&events.Config{Enabled: false}),
		Logger:     zerolog.Nop(),
	})

	start(t, s)
	for i := 0; i < 3; i++ {
		if err := s.HandleAudio(nonSilentFrame); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	got := stopAndCollect(t, s)

	var scoreErr *models.ScoreErrorEvent
	for _, ev := range got {
		switch e := ev.(type) {
		case models.ScoreErrorEvent:
			scoreErr = &e
		case models.ScoreEvent:
			t.Errorf("expected no score event without any signal, got %+v", e)
		}
	}
	if scoreErr == nil {
		t.Fatal("expected a score_error event")
	}
	if scoreErr.SegmentID != "1" || scoreErr.Error == "" {
		t.Errorf("unexpected score_error: %+v", scoreErr)
	}
}

func TestSession_AdapterFailureIsFatal(t *testing.T) {
	s := New(Options{
		ID: "test-session",
		NewAdapter: func(int) (stt.Adapter, error) {
			return nil, errors.New("model not loaded")
		},
		Pipeline:  lexiconPipeline(),
		Publisher: events.New(&events.Config{Enabled: false}),
		Logger:    zerolog.Nop(),
	})
	defer s.Close()

	if err := s.HandleControl([]byte(`{"type":"start"}`)); err == nil {
		t.Error("expected a fatal error when the recognizer cannot be created")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s := newTestSession(nil)
	start(t, s)
	s.Close()
	s.Close()

	// The event channel must be closed.
	for range s.Events() {
	}
	if s.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", s.State())
	}
}

// bufferingAdapter hands its callback out so a test can fire it after the
// session is torn down, the way a streaming recognizer with buffered
// responses can.
type bufferingAdapter struct {
	cb stt.Callback
}

func (a *bufferingAdapter) Start(_ context.Context, cb stt.Callback) error {
	a.cb = cb
	return nil
}

func (a *bufferingAdapter) Feed(context.Context, []byte) error { return nil }
func (a *bufferingAdapter) Drain() (string, error)             { return "", nil }
func (a *bufferingAdapter) Close() error                       { return nil }

func TestSession_LateCallbacksAfterCloseAreDiscarded(t *testing.T) {
	adapter := &bufferingAdapter{}
	s := New(Options{
		ID: "test-session",
		NewAdapter: func(int) (stt.Adapter, error) {
			return adapter, nil
		},
		Pipeline:  lexiconPipeline("badword"),
		Publisher: events.New(&events.Config{Enabled: false}),
		Logger:    zerolog.Nop(),
	})

	start(t, s)
	s.Close()

	// Must not panic against the closed event channel.
	adapter.cb.OnFinal("tail utterance")
	adapter.cb.OnPartial("tail")
	adapter.cb.OnError(errors.New("stream torn down"))

	for ev := range s.Events() {
		switch ev.(type) {
		case models.SegmentEvent, models.PartialEvent, models.ScoreEvent:
			t.Errorf("late recognizer callback must not produce events, got %T", ev)
		}
	}
	if got := s.Segments(); len(got) != 0 {
		t.Errorf("late final must not be recorded, got %v", got)
	}
}

func TestSession_SilenceProducesNoUpdates(t *testing.T) {
	s := newTestSession(mock.DefaultUtterances)

	start(t, s)
	silence := make([]byte, 320)
	for i := 0; i < 5; i++ {
		if err := s.HandleAudio(silence); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	got := stopAndCollect(t, s)

	for _, ev := range got {
		switch ev.(type) {
		case models.PartialEvent, models.SegmentEvent:
			t.Errorf("silence must not produce transcript events, got %T", ev)
		}
	}
}
