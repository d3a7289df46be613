package main

import (
	"io"

	"golang.org/x/exp/slog"
)

func newLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(FlagLogLevel)
	if err != nil {
		return nil, err
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})), nil
}
