package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/auditgate/llm-gateway/internal/cache"
	"github.com/auditgate/llm-gateway/internal/config"
	"github.com/auditgate/llm-gateway/internal/gateway"
	"github.com/auditgate/llm-gateway/internal/store"
	"github.com/auditgate/llm-gateway/internal/telemetry"
	"github.com/auditgate/llm-gateway/internal/upstream"
	"github.com/auditgate/llm-gateway/internal/utils"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("dsn", cfg.DatabaseURL).Msg("failed to open log store")
	}
	defer st.Close()

	opts := gateway.Options{}

	if cfg.RedisURL != "" {
		rc, err := cache.New(context.Background(), cfg.RedisURL, config.FreshnessWindow)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rc.Close()
		opts.Cache = rc
		log.Info().Msg("checkchat cache enabled")
	}

	needsAWS := cfg.BackendEnabled(config.BackendBedrock) ||
		(cfg.BackendEnabled(config.BackendSageMaker) && cfg.SageMakerEndpoint != "")
	if needsAWS {
		awsCfg, err := upstream.LoadAWSConfig(context.Background(), cfg.AWSRegion)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load aws configuration")
		}
		if cfg.BackendEnabled(config.BackendBedrock) {
			opts.Bedrock = upstream.NewBedrockClient(awsCfg, cfg.BedrockAssumedRole, "application/json")
		}
		if cfg.BackendEnabled(config.BackendSageMaker) && cfg.SageMakerEndpoint != "" {
			opts.SageMaker = upstream.NewSageMakerClient(awsCfg, cfg.ContentType)
		}
	}

	sink := telemetry.NewSink(cfg.SubmissionsEnabled, cfg.SubmissionsURL)
	gw := gateway.New(cfg, st, upstream.NewClient(), sink, opts)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      gw.Routes(),
		ReadTimeout:  config.DefaultServerReadTimeout,
		WriteTimeout: config.DefaultServerWriteTimeout,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Strs("backends", cfg.Backends).
			Str("llm_endpoint", cfg.LLMEndpoint).
			Str("authorization", utils.MaskKey(cfg.Authorization)).
			Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
