package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roman-kulish/radarscope/cmd/radarscope/app"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var configPath, url, listen string
	var minimal bool
	flag.StringVar(&configPath, "c", "", "Path to the configuration file")
	flag.StringVar(&url, "url", "", "WebSocket URL of the simulation, overrides the configuration")
	flag.StringVar(&listen, "listen", "", "Address of the control surface, overrides the configuration")
	flag.BoolVar(&minimal, "minimal", false, "Render the minimal scope without weapon layers or sampled log lines")
	flag.Parse()

	config := app.NewConfig()
	if configPath != "" {
		var err error
		if config, err = app.LoadConfig(configPath); err != nil {
			logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
			os.Exit(1)
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			config.Channel.URL = url
		case "listen":
			config.Server.Listen = listen
		case "minimal":
			config.Render.Minimal = minimal
		}
	})
	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("invalid configuration: %s", err.Error()))
		os.Exit(1)
	}

	level, _ := config.Settings.Level()
	logLevel.Set(level)

	if config.Settings.LogFile != "" {
		w := &lumberjack.Logger{
			Filename:   config.Settings.LogFile,
			MaxSize:    32, // MB
			MaxBackups: 3,
			MaxAge:     14,
		}
		defer w.Close()

		logger = slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, w), &slog.HandlerOptions{Level: &logLevel}))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, config, logger); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
