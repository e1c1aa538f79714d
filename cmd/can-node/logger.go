package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-can-node/internal/logging"
)

func setupLogger(format, level, role string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "can-node", "role", role)
	logging.Set(l)
	return l
}
