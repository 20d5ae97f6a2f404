package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brightcall/voicebridge/pkg/agent"
	"github.com/brightcall/voicebridge/pkg/amd"
	"github.com/brightcall/voicebridge/pkg/audio"
	"github.com/brightcall/voicebridge/pkg/config"
	"github.com/brightcall/voicebridge/pkg/predictor"
	"github.com/brightcall/voicebridge/pkg/server"
	"github.com/brightcall/voicebridge/pkg/telco"
	"github.com/brightcall/voicebridge/pkg/tools"
	"github.com/brightcall/voicebridge/pkg/trace"
)

func main() {
	godotenv.Load()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := trace.Initialize(ctx, trace.DefaultConfig()); err != nil {
		log.Printf("Tracing disabled: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		trace.Shutdown(shutdownCtx)
	}()

	telcoClient := telco.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber)

	urlCache := agent.NewURLCache(agent.NewSignedURLClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsAgentID))
	go urlCache.Run(ctx)

	registry := amd.NewRegistry(telcoClient)
	go registry.Run(ctx)

	calls := predictor.New(urlCache)
	go calls.Run(ctx)

	greetings := audio.NewGreetingCache(agent.NewTTSClient(cfg.ElevenLabsAPIKey), time.Hour)

	dispatcher := tools.NewDispatcher(tools.NewCalendarClient(cfg.CalComAPIKey))

	srv := server.New(cfg, server.Deps{
		Calls:     telcoClient,
		URLs:      urlCache,
		Registry:  registry,
		Predictor: calls,
		Tools:     dispatcher,
		Greetings: greetings,
	})
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server start failed: %v", err)
	}

	log.Printf("Voice bridge up (%s), public host %s", cfg.Environment, cfg.PublicHost)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("Shutting down...")
	cancel()
	srv.Stop()
}
