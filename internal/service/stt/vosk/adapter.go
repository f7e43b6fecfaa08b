// Package vosk provides a Vosk (Kaldi) incremental recognizer adapter.
//
// The model is loaded once per process and shared read-only across sessions;
// each session gets its own recognizer carrying the decoding state.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/rs/zerolog/log"

	"voice-screening-service/internal/observability/metrics"
	"voice-screening-service/internal/service/stt"
)

// ErrAdapterClosed is returned by Feed after Drain or Close.
var ErrAdapterClosed = errors.New("vosk adapter is closed")

// Engine holds the process-wide Vosk model handle.
type Engine struct {
	model *vosk.VoskModel
	path  string
}

// NewEngine loads the Vosk model from path. Loading is the expensive part;
// call once at startup and reuse the engine for every session.
func NewEngine(modelPath string) (*Engine, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("VOSK_MODEL_PATH is not configured")
	}
	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, fmt.Errorf("vosk model path not usable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vosk model path is not a directory: %s", modelPath)
	}

	vosk.SetLogLevel(-1)
	log.Info().Str("path", modelPath).Msg("Loading Vosk model")
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load vosk model: %w", err)
	}
	return &Engine{model: model, path: modelPath}, nil
}

// ModelPath returns the path the model was loaded from.
func (e *Engine) ModelPath() string {
	return e.path
}

// Factory returns a per-session adapter factory backed by this engine.
func (e *Engine) Factory() stt.Factory {
	return func(sampleRateHz int) (stt.Adapter, error) {
		if sampleRateHz <= 0 {
			return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRateHz)
		}
		rec, err := vosk.NewRecognizer(e.model, float64(sampleRateHz))
		if err != nil {
			return nil, fmt.Errorf("failed to create vosk recognizer: %w", err)
		}
		return &adapter{rec: rec}, nil
	}
}

// Close frees the model handle.
func (e *Engine) Close() {
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
}

// adapter wraps one VoskRecognizer. Feed and Drain serialize on a mutex so
// concurrent callers cannot interleave mid-decode.
type adapter struct {
	mu     sync.Mutex
	rec    *vosk.VoskRecognizer
	cb     stt.Callback
	closed bool
}

func (a *adapter) Start(_ context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAdapterClosed
	}
	a.cb = cb
	return nil
}

func (a *adapter) Feed(_ context.Context, pcm []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAdapterClosed
	}
	if len(pcm) == 0 {
		return nil
	}

	if a.rec.AcceptWaveform(pcm) != 0 {
		text, err := extractText(a.rec.Result(), "text")
		if err != nil {
			metrics.DefaultMetrics.RecordRecognizerError("vosk")
			a.cb.OnError(err)
			return nil
		}
		if text != "" {
			a.cb.OnFinal(text)
		}
		return nil
	}

	text, err := extractText(a.rec.PartialResult(), "partial")
	if err != nil {
		metrics.DefaultMetrics.RecordRecognizerError("vosk")
		a.cb.OnError(err)
		return nil
	}
	if text != "" {
		a.cb.OnPartial(text)
	}
	return nil
}

func (a *adapter) Drain() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrAdapterClosed
	}
	a.closed = true
	defer a.free()
	return extractText(a.rec.FinalResult(), "text")
}

func (a *adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.free()
	return nil
}

// free must be called with mu held.
func (a *adapter) free() {
	if a.rec != nil {
		a.rec.Free()
		a.rec = nil
	}
}

// extractText pulls the named field out of a Vosk JSON result payload.
func extractText(payload, field string) (string, error) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return "", fmt.Errorf("unparseable recognizer result: %w", err)
	}
	text, _ := parsed[field].(string)
	return strings.TrimSpace(text), nil
}
