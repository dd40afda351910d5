package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/aivsjobs/internal/config"
	"github.com/snappy-loop/aivsjobs/internal/handlers"
	"github.com/snappy-loop/aivsjobs/internal/kafka"
	"github.com/snappy-loop/aivsjobs/internal/llm"
	"github.com/snappy-loop/aivsjobs/internal/mcpserver"
	"github.com/snappy-loop/aivsjobs/internal/pipeline"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("Starting AI vs Jobs")

	// Runs outlive the request that started them; they stop only on shutdown.
	baseCtx, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()

	client, err := llm.NewGenAIClient(baseCtx, cfg.GeminiAPIKey, cfg.GeminiAPIEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	analyzer := llm.NewAnalyzer(client.Models, cfg.GeminiModelText)
	illustrator := llm.NewIllustrator(client.Models, cfg.GeminiModelImage)

	deps := pipeline.Deps{Analyzer: analyzer, Illustrator: illustrator}
	if len(cfg.KafkaBrokers) > 0 {
		pingCtx, cancel := context.WithTimeout(baseCtx, 5*time.Second)
		if err := kafka.Ping(pingCtx, cfg.KafkaBrokers); err != nil {
			log.Warn().Err(err).Strs("brokers", cfg.KafkaBrokers).Msg("Kafka not reachable, run events may be lost")
		}
		cancel()
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicRuns)
		defer producer.Close()
		deps.Publisher = producer
		log.Info().Str("topic", cfg.KafkaTopicRuns).Msg("Publishing run events")
	}

	registry := pipeline.NewRegistry(baseCtx, deps, cfg.SessionIdleTTL)
	go registry.RunSweeper(baseCtx, cfg.SessionSweepInterval)

	h := handlers.NewHandler(registry, cfg.MaxProfessionLength)
	mcpSrv := mcpserver.NewServer(analyzer, illustrator)

	corsMiddleware := cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})

	r := mux.NewRouter()
	r.HandleFunc("/", h.Index).Methods("GET")
	r.HandleFunc("/healthz", h.Health).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)
	api.HandleFunc("/sessions", h.CreateSession).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET", "OPTIONS")
	api.HandleFunc("/sessions/{id}/analyze", h.Analyze).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions/{id}/ws", h.SessionWS).Methods("GET")

	r.Handle("/mcp", corsMiddleware(mcpSrv.Handler())).Methods("POST", "OPTIONS")

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		// generate_illustration over /mcp answers synchronously
		WriteTimeout: 2 * time.Minute,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	stopRuns()
	registry.Close()
	log.Info().Msg("Exited")
}
