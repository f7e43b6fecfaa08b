// Package mock provides a deterministic recognizer adapter for development
// and tests. It simulates incremental recognition with progressive partial
// hypotheses and exactly one final per utterance, without any model or cloud
// credentials.
package mock

import (
	"context"
	"errors"
	"sync"

	"voice-screening-service/internal/service/stt"
)

// ErrAdapterClosed is returned by Feed after Drain or Close.
var ErrAdapterClosed = errors.New("mock adapter is closed")

// Utterance is a scripted utterance with progressive partials.
type Utterance struct {
	Partials []string
	Final    string
}

// DefaultUtterances is the script used when none is provided.
var DefaultUtterances = []Utterance{
	{
		Partials: []string{"hello", "hello can you"},
		Final:    "hello can you hear me",
	},
	{
		Partials: []string{"this is", "this is a test"},
		Final:    "this is a test of the stream",
	},
	{
		Partials: []string{"goodbye"},
		Final:    "goodbye for now",
	},
}

// Adapter implements stt.Adapter with scripted responses. Each non-silent
// frame advances the script by one step: first through the current
// utterance's partials, then its final. All-zero frames are treated as
// silence and produce no updates. Callbacks run synchronously on the Feed
// goroutine, so update ordering matches feed ordering exactly.
type Adapter struct {
	mu       sync.Mutex
	cb       stt.Callback
	script   []Utterance
	utterIdx int
	step     int
	lastText string
	closed   bool
}

// New creates a mock adapter with the default script.
func New() *Adapter {
	return NewScripted(DefaultUtterances)
}

// NewScripted creates a mock adapter with a custom script.
func NewScripted(script []Utterance) *Adapter {
	return &Adapter{script: script}
}

// Factory returns an stt.Factory producing independent scripted adapters.
func Factory() stt.Factory {
	return func(int) (stt.Adapter, error) {
		return New(), nil
	}
}

func (a *Adapter) Start(_ context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAdapterClosed
	}
	a.cb = cb
	return nil
}

func (a *Adapter) Feed(_ context.Context, pcm []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAdapterClosed
	}
	if a.cb == nil || len(pcm) == 0 || isSilence(pcm) {
		return nil
	}
	if a.utterIdx >= len(a.script) {
		return nil
	}

	utt := a.script[a.utterIdx]
	if a.step < len(utt.Partials) {
		text := utt.Partials[a.step]
		a.step++
		a.lastText = text
		a.cb.OnPartial(text)
		return nil
	}

	a.utterIdx++
	a.step = 0
	a.lastText = ""
	a.cb.OnFinal(utt.Final)
	return nil
}

// Drain returns the last partial as the tail utterance when the script was
// stopped mid-utterance.
func (a *Adapter) Drain() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrAdapterClosed
	}
	a.closed = true
	return a.lastText, nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func isSilence(pcm []byte) bool {
	for _, b := range pcm {
		if b != 0 {
			return false
		}
	}
	return true
}
