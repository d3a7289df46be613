package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vkngwrapper/slab/simdevice"
	"github.com/vkngwrapper/slab/suballoc"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	FlagLogLevel        string
	FlagSlabSize        int
	FlagRejectOversized bool
	FlagHeapLimits      []int
)

func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "slabsim",
		Short:         "Drive the slab sub-allocator against a simulated device",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFlags()
		},
	}

	addGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(typesCmd())

	return rootCmd
}

func Execute() {
	if err := RootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newAllocator builds a simulated device and an allocator over it from the global flags
func newAllocator(cmd *cobra.Command, simOptions simdevice.Options) (*slog.Logger, *simdevice.Device, *suballoc.Allocator, error) {
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, nil, err
	}

	dev, err := simdevice.New(simOptions)
	if err != nil {
		return nil, nil, nil, err
	}

	var flags suballoc.CreateFlags
	if FlagRejectOversized {
		flags |= suballoc.AllocatorCreateRejectOversized
	}

	allocator, err := suballoc.New(logger, dev, suballoc.CreateOptions{
		SlabSize:       FlagSlabSize,
		Flags:          flags,
		HeapSizeLimits: FlagHeapLimits,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return logger, dev, allocator, nil
}
