package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkriz/voicegate/internal/agent"
	"github.com/dkriz/voicegate/internal/asr"
	"github.com/dkriz/voicegate/internal/eventlog"
	"github.com/dkriz/voicegate/internal/gateway"
	"github.com/dkriz/voicegate/internal/httpapi"
	"github.com/dkriz/voicegate/internal/llm"
	"github.com/dkriz/voicegate/internal/music"
	"github.com/dkriz/voicegate/internal/store"
	"github.com/dkriz/voicegate/internal/tool"
	"github.com/dkriz/voicegate/internal/tts"
	"github.com/dkriz/voicegate/internal/vad"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	store    *store.Store
	eventLog *eventlog.Logger
	gateway  *gateway.Server
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := store.New(db)
	el := eventlog.New(db)

	// Migrations are applied externally by the CI deploy job (docker exec psql).
	// No automatic migration runner at startup.

	llmClient := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})

	ttsClient := tts.NewStreamClient(tts.StreamConfig{
		APIURL:  cfg.TTSAPIURL,
		APIKey:  cfg.TTSAPIKey,
		VoiceID: cfg.TTSVoiceID,
	})

	var recognizer asr.Recognizer
	if cfg.ASRBaseURL != "" {
		recognizer = asr.NewHTTPClient(asr.HTTPConfig{BaseURL: cfg.ASRBaseURL})
	} else {
		logger.Printf("ASR_BASE_URL not set, utterances will be discarded")
	}

	var scorer vad.Scorer
	if cfg.VADScorerURL != "" {
		scorer = vad.NewHTTPScorer(vad.HTTPScorerConfig{
			BaseURL:    cfg.VADScorerURL,
			SampleRate: vad.DefaultSampleRate,
		})
	} else {
		logger.Printf("VAD_SCORER_URL not set, endpointing disabled, devices must end streams explicitly")
	}

	builtins := tool.NewRegistry()
	musicClient := music.NewClient(music.Config{FFmpegPath: cfg.FFmpegPath}, logger)
	builtins.Register(music.PlayTool(musicClient, logger))

	graph := agent.New(llmClient, builtins, logger)

	handler := gateway.NewHandler(gateway.HandlerConfig{
		Store:      s,
		Events:     el,
		Recognizer: recognizer,
		Scorer:     scorer,
		VAD: vad.Config{
			Threshold:  cfg.VADThreshold,
			MinSilence: time.Duration(cfg.VADMinSilenceMs) * time.Millisecond,
		},
		Graph: graph,
	}, logger)

	gw := gateway.NewServer(gateway.ServerConfig{
		Handler:     handler,
		Builtins:    builtins,
		TTS:         ttsClient,
		IdleTimeout: cfg.IdleTimeout,
	}, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    s,
		eventLog: el,
		gateway:  gw,
	}, nil
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		JWTSecret:   a.cfg.JWTSecret,
		JWTExpiry:   a.cfg.JWTExpiry,
		AdminAPIKey: a.cfg.AdminAPIKey,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.store, a.eventLog, a.gateway.HandleWS)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
