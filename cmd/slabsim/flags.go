package main

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/vkngwrapper/slab/memutils"
	"github.com/vkngwrapper/slab/suballoc"
	"golang.org/x/exp/slog"
)

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.StringVar(&FlagLogLevel, "log-level", slog.LevelWarn.String(), "Log verbosity level (DEBUG, INFO, WARN, ERROR)")
	flags.IntVar(&FlagSlabSize, "slab-size", suballoc.DefaultSlabSize, "Size of every pooled native allocation, must be a power of two")
	flags.BoolVar(&FlagRejectOversized, "reject-oversized", false, "Fail requests larger than the slab size instead of giving them dedicated memory")
	flags.IntSliceVar(&FlagHeapLimits, "heap-limits", nil, "Per-heap byte limits, -1 for no limit (one entry per heap)")
}

func validateFlags() error {
	if _, err := parseLevel(FlagLogLevel); err != nil {
		return err
	}

	if err := memutils.CheckPow2(FlagSlabSize, "--slab-size"); err != nil {
		return err
	}

	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}

	return slog.LevelInfo, errors.Newf("unknown log level %q", level)
}
