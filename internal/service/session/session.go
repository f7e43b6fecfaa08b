package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-screening-service/internal/events"
	"voice-screening-service/internal/models"
	"voice-screening-service/internal/observability/metrics"
	"voice-screening-service/internal/scoring"
	"voice-screening-service/internal/service/audio"
	"voice-screening-service/internal/service/stt"
)

// ErrSessionComplete signals a clean stop: the final transcript has been
// emitted and the connection can be closed.
var ErrSessionComplete = errors.New("session complete")

// eventBufferSize bounds the outbound event queue per session.
const eventBufferSize = 64

const (
	minSampleRate = 8000
	maxSampleRate = 48000
)

// controlMessage is the client-to-server control frame.
type controlMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// Options wires a session's collaborators.
type Options struct {
	ID                string
	DefaultSampleRate int
	NewAdapter        stt.Factory
	Pipeline          *scoring.Pipeline
	Publisher         *events.Publisher
	Metrics           *metrics.Metrics
	Logger            zerolog.Logger
}

// Session runs one client's screening conversation. Control and audio
// handling happens on the connection's read goroutine; scoring runs on
// detached per-segment goroutines; all outbound events funnel through a
// single buffered channel so the connection writer stays the only socket
// writer.
type Session struct {
	id          string
	log         zerolog.Logger
	defaultRate int
	newAdapter  stt.Factory
	pipeline    *scoring.Pipeline
	publisher   *events.Publisher
	metrics     *metrics.Metrics

	lifecycle *Lifecycle
	events    chan any

	ctx    context.Context
	cancel context.CancelFunc

	adapter    stt.Adapter
	sampleRate int
	started    time.Time

	mu       sync.Mutex
	seq      uint64
	segments []models.TranscriptSegment

	scoring   sync.WaitGroup
	closeOnce sync.Once
}

// New creates a session and queues the connected greeting.
func New(opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          opts.ID,
		log:         opts.Logger.With().Str("sessionId", opts.ID).Logger(),
		defaultRate: opts.DefaultSampleRate,
		newAdapter:  opts.NewAdapter,
		pipeline:    opts.Pipeline,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		lifecycle:   NewLifecycle(),
		events:      make(chan any, eventBufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	if s.defaultRate <= 0 {
		s.defaultRate = 16000
	}
	if s.metrics == nil {
		s.metrics = metrics.DefaultMetrics
	}
	s.emit(models.ConnectedEvent{
		Type:    models.EventConnected,
		Message: "send a start control message to begin streaming",
	})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Events returns the outbound event channel. It is closed by Close; the
// connection writer must drain it until then.
func (s *Session) Events() <-chan any {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.lifecycle.State()
}

// HandleControl processes one text control frame. Malformed or misplaced
// control messages produce an error event and the session continues; the
// returned error is fatal for the connection. A clean stop returns
// ErrSessionComplete.
func (s *Session) HandleControl(raw []byte) error {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.emitError(fmt.Sprintf("malformed control message: %v", err))
		return nil
	}

	switch msg.Type {
	case "start":
		return s.handleStart(msg)
	case "stop":
		return s.handleStop()
	default:
		s.emitError(fmt.Sprintf("unknown control message type %q", msg.Type))
		return nil
	}
}

func (s *Session) handleStart(msg controlMessage) error {
	rate := msg.SampleRate
	if rate == 0 {
		rate = s.defaultRate
	}
	if rate < minSampleRate || rate > maxSampleRate {
		s.emitError(fmt.Sprintf("sample rate %d is outside %d..%d", rate, minSampleRate, maxSampleRate))
		return nil
	}

	if err := s.lifecycle.Start(); err != nil {
		s.emitError(err.Error())
		return nil
	}

	adapter, err := s.newAdapter(rate)
	if err != nil {
		// No recognizer means no session; this is fatal.
		s.emitError(fmt.Sprintf("recognizer unavailable: %v", err))
		return fmt.Errorf("create recognizer: %w", err)
	}
	if err := adapter.Start(s.ctx, s); err != nil {
		s.emitError(fmt.Sprintf("recognizer unavailable: %v", err))
		return fmt.Errorf("start recognizer: %w", err)
	}

	s.adapter = adapter
	s.sampleRate = rate
	s.started = time.Now()
	s.metrics.RecordSessionStart()
	s.log.Info().Int("sampleRate", rate).Msg("Session started")

	s.emit(models.StartedEvent{
		Type:       models.EventStarted,
		SampleRate: rate,
	})
	return nil
}

// handleStop drains the recognizer tail, waits for in-flight scores and
// emits the final transcript. It blocks the read goroutine; the wait is
// bounded because every scoring attempt carries a timeout.
func (s *Session) handleStop() error {
	if err := s.lifecycle.Stop(); err != nil {
		s.emitError(err.Error())
		return nil
	}

	if tail, err := s.adapter.Drain(); err != nil {
		s.log.Warn().Err(err).Msg("Recognizer drain failed")
	} else if strings.TrimSpace(tail) != "" {
		s.finalize(tail)
	}

	s.scoring.Wait()

	s.emit(models.FinalEvent{
		Type:       models.EventFinal,
		Transcript: s.transcript(),
	})
	s.log.Info().Msg("Session stopped")
	return ErrSessionComplete
}

// HandleAudio processes one binary PCM frame. Frames arriving outside the
// listening state or failing validation are rejected with an error event;
// the session continues. A recognizer feed failure is fatal.
func (s *Session) HandleAudio(frame []byte) error {
	if err := s.lifecycle.AcceptAudio(); err != nil {
		s.metrics.RecordFrameRejected(rejectionReason(err))
		s.emitError(fmt.Sprintf("audio frame rejected: %v", err))
		return nil
	}
	if err := audio.ValidateFrame(frame); err != nil {
		s.metrics.RecordFrameRejected("invalid_frame")
		s.emitError(fmt.Sprintf("audio frame rejected: %v", err))
		return nil
	}

	s.metrics.RecordAudioReceived(len(frame))

	if err := s.adapter.Feed(s.ctx, frame); err != nil {
		s.emitError(fmt.Sprintf("recognizer failed: %v", err))
		return fmt.Errorf("feed recognizer: %w", err)
	}
	return nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, ErrStopping):
		return "stopping"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	default:
		return "state"
	}
}

// OnPartial implements stt.Callback. Partials delivered after close are
// discarded.
func (s *Session) OnPartial(text string) {
	if s.lifecycle.IsClosed() || strings.TrimSpace(text) == "" {
		return
	}
	s.metrics.RecordPartialTranscript()
	s.emit(models.PartialEvent{
		Type: models.EventPartial,
		Text: text,
	})
}

// OnFinal implements stt.Callback. A recognizer that buffers results can
// deliver a final after the session is torn down; those are discarded, never
// finalized against a closed event channel.
func (s *Session) OnFinal(text string) {
	if s.lifecycle.IsClosed() || strings.TrimSpace(text) == "" {
		return
	}
	s.finalize(text)
}

// OnError implements stt.Callback.
func (s *Session) OnError(err error) {
	if s.lifecycle.IsClosed() {
		return
	}
	s.log.Error().Err(err).Msg("Recognizer error")
	s.emitError(fmt.Sprintf("recognizer error: %v", err))
}

// finalize seals one segment: assigns the next sequence number, emits the
// segment event and dispatches scoring. Finals arrive serialized from the
// recognizer, so sequence numbers are strictly increasing.
func (s *Session) finalize(text string) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	s.seq++
	seg := models.TranscriptSegment{
		Seq:       s.seq,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
	s.segments = append(s.segments, seg)
	s.mu.Unlock()

	s.metrics.RecordSegmentFinalized()
	s.log.Debug().Uint64("seq", seg.Seq).Str("text", text).Msg("Segment finalized")

	s.emit(models.SegmentEvent{
		Type:      models.EventSegment,
		SegmentID: models.SegmentID(seg.Seq),
		Text:      seg.Text,
		Timestamp: seg.Timestamp,
	})

	if s.publisher != nil {
		if err := s.publisher.PublishSegment(s.ctx, s.id, seg); err != nil {
			s.log.Warn().Err(err).Msg("Segment audit publish failed")
		}
	}

	s.scoring.Add(1)
	go s.score(seg)
}

// score produces exactly one verdict event for the segment. Results that
// arrive after the session is cancelled are discarded.
func (s *Session) score(seg models.TranscriptSegment) {
	defer s.scoring.Done()

	start := time.Now()
	outcome, err := s.pipeline.Score(s.ctx, seg.Text)

	if s.ctx.Err() != nil {
		return
	}

	segID := models.SegmentID(seg.Seq)
	if err != nil {
		s.metrics.RecordScoreError()
		s.log.Warn().Err(err).Str("segmentId", segID).Msg("No scoring signal for segment")
		s.emit(models.ScoreErrorEvent{
			Type:      models.EventScoreError,
			SegmentID: segID,
			Text:      seg.Text,
			Error:     err.Error(),
		})
		return
	}

	result := outcome.Result
	s.metrics.RecordScore(result.Source, result.Flagged, time.Since(start).Seconds())
	s.log.Debug().
		Str("segmentId", segID).
		Float64("score", result.Score).
		Bool("flagged", result.Flagged).
		Str("source", result.Source).
		Msg("Segment scored")

	s.emit(models.ScoreEvent{
		Type:      models.EventScore,
		SegmentID: segID,
		Text:      seg.Text,
		Score:     result.Score,
		Label:     result.Label,
		Severity:  result.Severity,
		Flagged:   result.Flagged,
		Source:    result.Source,
		Reason:    outcome.FallbackReason,
	})

	if s.publisher != nil {
		if err := s.publisher.PublishScore(s.ctx, s.id, segID, result); err != nil {
			s.log.Warn().Err(err).Str("segmentId", segID).Msg("Score audit publish failed")
		}
	}
}

// transcript joins all finalized segments in order.
func (s *Session) transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]string, 0, len(s.segments))
	for _, seg := range s.segments {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " ")
}

// Segments returns a copy of the finalized segments so far.
func (s *Session) Segments() []models.TranscriptSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TranscriptSegment, len(s.segments))
	copy(out, s.segments)
	return out
}

func (s *Session) emit(event any) {
	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}

func (s *Session) emitError(msg string) {
	s.emit(models.ErrorEvent{
		Type:  models.EventError,
		Error: msg,
	})
}

// Close tears the session down. Safe to call from any state and more than
// once. The recognizer is closed before cancellation so no callbacks race
// the event channel close; pending score goroutines exit on the cancelled
// context.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		wasStarted := !s.started.IsZero()
		s.lifecycle.Close()

		if s.adapter != nil {
			if err := s.adapter.Close(); err != nil {
				s.log.Debug().Err(err).Msg("Recognizer close failed")
			}
		}

		s.cancel()
		s.scoring.Wait()
		close(s.events)

		if wasStarted {
			s.metrics.RecordSessionEnd(time.Since(s.started).Seconds())
		}
		s.log.Info().Msg("Session closed")
	})
}
