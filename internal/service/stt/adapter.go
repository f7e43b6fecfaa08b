// Package stt defines the contract for incremental speech recognizers.
package stt

import "context"

// Callback receives recognition updates from the adapter. Partial updates may
// arrive zero or many times before a final; a final is delivered exactly once
// per utterance, after which the recognizer state is reset for the next
// utterance.
type Callback interface {
	// OnPartial is called with an interim, revisable hypothesis.
	OnPartial(text string)

	// OnFinal is called with a finalized utterance (non-empty text).
	OnFinal(text string)

	// OnError is called when the recognizer fails to process a frame.
	OnError(err error)
}

// Adapter wraps one incremental recognizer instance. Instances are
// per-session and must not be shared; the underlying model handle may be
// shared read-only across sessions. Feed must be called sequentially;
// frames fed out of order corrupt decoding.
type Adapter interface {
	// Start binds the callback receiver. Must be called before Feed.
	Start(ctx context.Context, cb Callback) error

	// Feed consumes one PCM frame. Silence produces no callbacks.
	Feed(ctx context.Context, pcm []byte) error

	// Drain flushes the recognizer's buffered tail utterance, returning
	// its text (empty when nothing was pending). No further Feed calls may
	// follow.
	Drain() (string, error)

	// Close releases recognizer resources.
	Close() error
}

// Factory creates one adapter per session at the negotiated sample rate.
type Factory func(sampleRateHz int) (Adapter, error)
