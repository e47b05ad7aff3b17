package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FactbirdHQ/atat/modem"
)

func main() {
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	modemConfig, err := modem.NewConfigBuilder().
		WithDefaultTimeout(5 * time.Second).
		WithLogger(logger.With("component", "modem")).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to connect to modem", "error", err)
		os.Exit(1)
	}

	// The ingest loop must run before any command can complete.
	go func() {
		if err := client.Loop(ctx); err != nil {
			logger.Error("Ingest loop stopped", "error", err)
		}
	}()

	// Drain URCs so the channel never overflows while nobody cares.
	go func() {
		for urc := range client.URC() {
			logger.Info("URC", "frame", string(urc))
		}
	}()

	logger.Info("Starting AT bridge", "serial_port", config.SerialPort)

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger: logger.With("component", "server"),
			Client: client,
		},
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)

	logger.Info("Closing modem connection")
	if err := client.Close(); err != nil {
		logger.Error("Failed to close modem client", "error", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
		os.Exit(1)
	}
}
