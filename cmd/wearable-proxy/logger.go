package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-wearable-proxy/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "wearable-proxy")
	logging.Set(l)
	return l
}
