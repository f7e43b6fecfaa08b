// Package google provides a Google Cloud Speech-to-Text recognizer adapter.
package google

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"

	"voice-screening-service/internal/observability/metrics"
	"voice-screening-service/internal/service/stt"
)

// ErrAdapterClosed is returned by Feed after Drain or Close.
var ErrAdapterClosed = errors.New("google stt adapter is closed")

// Engine holds the process-wide Speech client. Streams are per-session.
type Engine struct {
	client       *speech.Client
	languageCode string
}

// NewEngine creates the shared Speech client. Requires
// GOOGLE_APPLICATION_CREDENTIALS to be set.
func NewEngine(ctx context.Context, languageCode string) (*Engine, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	if languageCode == "" {
		languageCode = "en-US"
	}
	return &Engine{client: c, languageCode: languageCode}, nil
}

// Factory returns a per-session adapter factory backed by this engine.
func (e *Engine) Factory() stt.Factory {
	return func(sampleRateHz int) (stt.Adapter, error) {
		return &adapter{engine: e, sampleRateHz: sampleRateHz}, nil
	}
}

// Close releases the shared client.
func (e *Engine) Close() error {
	return e.client.Close()
}

// adapter wraps one streaming recognition session.
type adapter struct {
	engine       *Engine
	sampleRateHz int

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cb     stt.Callback
	closed bool
	done   chan struct{}
}

// Start opens the stream, sends the streaming config and spawns the
// response listener.
func (a *adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAdapterClosed
	}

	stream, err := a.engine.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(a.sampleRateHz),
					LanguageCode:    a.engine.languageCode,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		return err
	}

	a.stream = stream
	a.cb = cb
	a.done = make(chan struct{})
	go a.listen(stream, cb)
	return nil
}

func (a *adapter) Feed(_ context.Context, pcm []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.stream == nil {
		return ErrAdapterClosed
	}
	if len(pcm) == 0 {
		return nil
	}
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: pcm,
		},
	})
}

// Drain half-closes the stream and waits for the listener to deliver any
// buffered tail results through the callback. The tail text therefore always
// arrives via OnFinal, never in the return value.
func (a *adapter) Drain() (string, error) {
	a.mu.Lock()
	if a.closed || a.stream == nil {
		a.mu.Unlock()
		return "", ErrAdapterClosed
	}
	a.closed = true
	stream, done := a.stream, a.done
	a.mu.Unlock()

	if err := stream.CloseSend(); err != nil {
		return "", err
	}
	<-done
	return "", nil
}

// Close half-closes the stream and joins the listener, so no callback can
// fire after it returns.
func (a *adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	stream, done := a.stream, a.done
	a.mu.Unlock()

	if stream == nil {
		return nil
	}
	err := stream.CloseSend()
	<-done
	return err
}

// listen receives responses until the stream ends, forwarding results to the
// callback.
func (a *adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) {
	defer close(a.done)
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if !closed {
				metrics.DefaultMetrics.RecordRecognizerError("google")
				cb.OnError(err)
			}
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			text := strings.TrimSpace(r.Alternatives[0].Transcript)
			if text == "" {
				continue
			}
			if r.IsFinal {
				cb.OnFinal(text)
			} else {
				cb.OnPartial(text)
			}
		}
	}
}
