// Package main implements the live tuner proxy server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"livetuner/config"
	"livetuner/handlers"
	"livetuner/internal/testsource"
)

func main() {
	// Configure logrus
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	cfg, err := config.New()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level based on config
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to parse log level")
	}
	logrus.SetLevel(level)

	logger := logrus.StandardLogger()

	registry := handlers.NewRegistry()

	router := mux.NewRouter()
	// Stream targets embed full URLs in the path; path cleaning would
	// collapse their double slashes and redirect.
	router.SkipClean(true)
	router.Use(handlers.LoggingMiddleware(logger))
	router.Handle("/stream/{target:.+}", handlers.NewStreamHandler(cfg, registry, logger))
	router.Handle("/status", handlers.NewStatusHandler(registry, logger))
	router.Handle("/test.ts", testsource.New(cfg.TestChannelRate, logger))

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: stream sessions are long-lived and end when the
		// client disconnects or the upstream stops.
		IdleTimeout: 120 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	logger.WithField("port", cfg.Port).Info("Starting live tuner proxy")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}
