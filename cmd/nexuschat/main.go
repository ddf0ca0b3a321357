package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"NexusChat/internal/backend"
	"NexusChat/internal/chatbot"
	"NexusChat/internal/config"
	"NexusChat/internal/session"
	"NexusChat/internal/store"
	"NexusChat/internal/telemetry"
	"NexusChat/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "LLM backend ("+strings.Join(config.Backends, "|")+")")
	flag.StringVar(&cfg.Model, "model", cfg.Model, "Model name (defaults per backend)")
	flag.StringVar(&cfg.UI, "ui", cfg.UI, "User interface (web|terminal)")
	flag.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "Listen address for the web UI")
	flag.StringVar(&cfg.TranscriptDB, "transcript-db", cfg.TranscriptDB, "SQLite file for the diagnostic transcript archive (empty disables)")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for logs, traces and metrics")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.BoolVar(&cfg.Color, "color", cfg.Color, "Colorize terminal output")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	completer, err := backend.New(cfg, logger)
	if err != nil {
		return err
	}

	sess := session.New(cfg.Backend)
	logger.Info("created new session", "session_id", sess.ID, "backend", cfg.Backend, "model", cfg.ModelOrDefault())

	opts := []chatbot.Option{
		chatbot.WithLogger(logger),
		chatbot.WithTracer(tracer),
		chatbot.WithMeter(meter),
	}

	if cfg.TranscriptDB != "" {
		archive, err := store.Open(cfg.TranscriptDB)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer archive.Close()
		if err := archive.RecordSession(ctx, sess); err != nil {
			logger.Warn("failed to archive session", "error", err)
		}
		opts = append(opts, chatbot.WithRecorder(archive))
	}

	if cfg.UI == config.UITerminal {
		controller := chatbot.NewController(sess, completer, cfg.ModelOrDefault(), opts...)
		bot := chatbot.NewChatBot(cfg, controller, backend.New, logger, os.Stdin, os.Stdout)
		return bot.Run(ctx)
	}

	hub := web.NewHub(logger)
	opts = append(opts, chatbot.WithNotifier(hub.Publish))
	controller := chatbot.NewController(sess, completer, cfg.ModelOrDefault(), opts...)

	fmt.Printf("Nexus Bot listening on %s\n", cfg.ListenAddr)
	return web.NewServer(cfg.ListenAddr, controller, hub, logger).Run(ctx)
}
