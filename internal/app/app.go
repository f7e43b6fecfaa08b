// Package app wires configuration into the service's capabilities. A
// capability that fails to initialize degrades health instead of crashing
// the process; the session layer then reports the degradation per segment.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-screening-service/internal/config"
	"voice-screening-service/internal/events"
	"voice-screening-service/internal/health"
	"voice-screening-service/internal/observability/logging"
	"voice-screening-service/internal/scoring"
	"voice-screening-service/internal/service/session"
	"voice-screening-service/internal/service/stt"
	"voice-screening-service/internal/service/stt/google"
	"voice-screening-service/internal/service/stt/mock"
	"voice-screening-service/internal/service/stt/vosk"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Pipeline  *scoring.Pipeline
	Publisher *events.Publisher
	Health    *health.Aggregator

	classifier    *scoring.Client
	lexicon       *scoring.Lexicon
	lexiconStatus scoring.LexiconStatus
	newAdapter    stt.Factory
	recognizerErr error

	voskEngine   *vosk.Engine
	googleEngine *google.Engine
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("component", "application").
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("Voice screening service application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	format := "json"
	if a.Cfg.Service.Env == "dev" {
		format = "console"
	}
	logging.Init(logging.Config{
		Level:  strings.ToLower(a.Cfg.Observability.LogLevel),
		Format: format,
	})
	a.Logger = logging.Logger().With().
		Str("service", "voice-screening-service").
		Logger()
	log.Logger = a.Logger

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Service.Env).
		Msg("Logger setup completed")
}

// Start initializes every capability and the health aggregator. It only
// returns an error for programming mistakes; missing models, credentials or
// term files come back as degraded health.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()

	a.setupLexicon()
	a.setupClassifier()
	a.setupRecognizer(ctx)

	a.Publisher = events.New(&events.Config{
		Enabled:      a.Cfg.Kafka.Enabled,
		Brokers:      a.Cfg.Kafka.Brokers,
		TopicSegment: a.Cfg.Kafka.TopicSegments,
		TopicScore:   a.Cfg.Kafka.TopicScores,
		Principal:    a.Cfg.Kafka.Principal,
	})

	a.Health = health.New(
		a.recognizerCheck(),
		a.classifier.Probe,
		a.lexiconStatus,
		a.lexicon.Len(),
	)

	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("sttProvider", a.Cfg.Recognizer.Provider).
		Str("lexicon", a.lexiconStatus.String()).
		Bool("classifierConfigured", a.classifier.Configured()).
		Msg("Voice screening service starting")

	return nil
}

func (a *Application) setupLexicon() {
	path := a.Cfg.Lexicon.Path
	if a.Cfg.Lexicon.Provider != "lexicon" || path == "" {
		a.lexiconStatus = scoring.LexiconNotConfigured
		return
	}

	lex, err := scoring.LoadLexicon(path)
	if err != nil {
		a.Logger.Error().Err(err).Str("path", path).Msg("Failed to load flag terms")
		a.lexiconStatus = scoring.LexiconFailed
		return
	}
	a.lexicon = lex
	a.lexiconStatus = scoring.LexiconLoaded
	a.Logger.Info().Int("terms", lex.Len()).Msg("Flag terms loaded")
}

func (a *Application) setupClassifier() {
	cfg := a.Cfg.Classifier
	a.classifier = scoring.NewClient(scoring.ClientConfig{
		Host:        cfg.Host,
		Token:       cfg.Token,
		Endpoint:    cfg.Endpoint,
		InputColumn: cfg.InputColumn,
		Timeout:     cfg.ScoreTimeout,
	})

	specs := scoring.NewSpecSet(scoring.OutputSpec{
		ScoreType:     cfg.ScoreType,
		ScoreField:    cfg.ScoreField,
		LabelField:    cfg.LabelField,
		PositiveClass: cfg.PositiveClass,
	}, cfg.EndpointSpecs)

	engine := scoring.NewEngine(cfg.Threshold, a.lexicon)
	a.Pipeline = scoring.NewPipeline(a.classifier, specs, engine, a.lexiconStatus, cfg.ScoreTimeout)
}

func (a *Application) setupRecognizer(ctx context.Context) {
	switch a.Cfg.Recognizer.Provider {
	case "vosk":
		engine, err := vosk.NewEngine(a.Cfg.Recognizer.ModelPath)
		if err != nil {
			a.recognizerErr = err
			a.Logger.Error().Err(err).Msg("Vosk model unavailable")
			return
		}
		a.voskEngine = engine
		a.newAdapter = engine.Factory()
		a.Logger.Info().Str("modelPath", engine.ModelPath()).Msg("Vosk model loaded")
	case "google":
		engine, err := google.NewEngine(ctx, a.Cfg.Recognizer.LanguageCode)
		if err != nil {
			a.recognizerErr = err
			a.Logger.Error().Err(err).Msg("Google speech client unavailable")
			return
		}
		a.googleEngine = engine
		a.newAdapter = engine.Factory()
		a.Logger.Info().Str("language", a.Cfg.Recognizer.LanguageCode).Msg("Google speech client ready")
	case "mock":
		a.newAdapter = mock.Factory()
		a.Logger.Info().Msg("Mock recognizer active")
	default:
		a.recognizerErr = fmt.Errorf("unknown STT provider %q", a.Cfg.Recognizer.Provider)
		a.Logger.Error().Err(a.recognizerErr).Msg("Recognizer unavailable")
	}
}

func (a *Application) recognizerCheck() health.Check {
	return func(context.Context) (bool, string) {
		if a.recognizerErr != nil {
			return false, a.recognizerErr.Error()
		}
		return true, ""
	}
}

// NewSession creates a session wired to the application's capabilities. The
// recognizer factory may be absent; the session then fails only when the
// client actually tries to start streaming.
func (a *Application) NewSession() *session.Session {
	id := uuid.NewString()
	factory := a.newAdapter
	if factory == nil {
		err := a.recognizerErr
		factory = func(int) (stt.Adapter, error) {
			return nil, fmt.Errorf("no recognizer available: %w", err)
		}
	}
	return session.New(session.Options{
		ID:                id,
		DefaultSampleRate: a.Cfg.Recognizer.DefaultSampleRate,
		NewAdapter:        factory,
		Pipeline:          a.Pipeline,
		Publisher:         a.Publisher,
		Logger:            a.Logger,
	})
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Kafka publisher close failed")
		}
	}
	if a.voskEngine != nil {
		a.voskEngine.Close()
	}
	if a.googleEngine != nil {
		if err := a.googleEngine.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Google speech client close failed")
		}
	}

	shutdownLogger.Info().Msg("Voice screening service shutting down")
}
