package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/vkngwrapper/slab/internal/workload"
	"github.com/vkngwrapper/slab/simdevice"
	"github.com/vkngwrapper/slab/suballoc"
	"golang.org/x/exp/slog"
)

var (
	// Run flags
	FlagSeed           int64
	FlagSteps          int
	FlagMaxSize        int
	FlagNoValidate     bool
	FlagKeepLive       bool
	FlagPrintJSON      bool
	FlagDetailedJSON   bool
	FlagRefuseMapTypes uint32
)

func addRunFlags(flags *pflag.FlagSet) {
	defaults := workload.DefaultOptions()

	flags.Int64Var(&FlagSeed, "seed", defaults.Seed, "Random seed for the workload")
	flags.IntVar(&FlagSteps, "steps", defaults.Steps, "Number of workload steps")
	flags.IntVar(&FlagMaxSize, "max-size", defaults.MaxSize, "Largest regular request size in bytes")
	flags.BoolVar(&FlagNoValidate, "no-validate", false, "Skip structural validation after each step")
	flags.BoolVar(&FlagKeepLive, "keep-live", false, "Leave handles outstanding at the end of the run; the allocator is still destroyed, and the unreleased chunks are logged rather than failing the command")
	flags.BoolVar(&FlagPrintJSON, "json", false, "Print allocator statistics as JSON instead of a table")
	flags.BoolVar(&FlagDetailedJSON, "detailed", false, "Include every slab and chunk in the JSON statistics")
	flags.Uint32Var(&FlagRefuseMapTypes, "refuse-map-types", 0, "Bitmask of memory types whose maps the simulated device refuses")
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a reproducible allocation workload and print the allocator's statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			simOptions := simdevice.DefaultOptions()
			simOptions.RefuseMapTypes = FlagRefuseMapTypes

			logger, dev, allocator, err := newAllocator(cmd, simOptions)
			if err != nil {
				return err
			}

			report, err := workload.Run(cmd.Context(), logger, allocator, dev, workload.Options{
				Seed:     FlagSeed,
				Steps:    FlagSteps,
				MaxSize:  FlagMaxSize,
				Validate: !FlagNoValidate,
				KeepLive: FlagKeepLive,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if FlagPrintJSON {
				fmt.Fprintln(out, allocator.BuildStatsString(FlagDetailedJSON))
			} else {
				err = printReport(out, report, dev)
				if err != nil {
					return err
				}
				err = printStatistics(out, allocator)
				if err != nil {
					return err
				}
			}

			err = allocator.Destroy()
			if err != nil && FlagKeepLive {
				// The kept handles are reported as unreleased on purpose
				logger.Warn("destroyed allocator with live handles", slog.Int("LiveHandles", report.LiveHandles))
				return nil
			}
			return err
		},
	}

	addRunFlags(cmd.Flags())
	return cmd
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
		Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.On}},
	})))
}

func printReport(w io.Writer, report workload.Report, dev *simdevice.Device) error {
	table := newTable(w)
	table.Header([]string{"OPERATION", "COUNT"})

	rows := [][]string{
		{"Allocations", strconv.Itoa(report.Allocations)},
		{"Bound resources", strconv.Itoa(report.BoundResources)},
		{"Oversized", strconv.Itoa(report.Oversized)},
		{"Rejected", strconv.Itoa(report.Rejected)},
		{"Shared references", strconv.Itoa(report.SharedReferences)},
		{"Releases", strconv.Itoa(report.Releases)},
		{"Maps", strconv.Itoa(report.Maps)},
		{"Failed maps", strconv.Itoa(report.FailedMaps)},
		{"Peak native allocations", strconv.Itoa(report.PeakNativeAllocations)},
		{"Peak chunk bytes", strconv.Itoa(report.PeakChunkBytes)},
		{"Live handles", strconv.Itoa(report.LiveHandles)},
		{"Device allocations", strconv.Itoa(dev.AllocateCount())},
		{"Device frees", strconv.Itoa(dev.FreeCount())},
		{"Device maps", strconv.Itoa(dev.MapCount())},
		{"Device flushes", strconv.Itoa(dev.FlushCount())},
		{"Device invalidates", strconv.Itoa(dev.InvalidateCount())},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}

	return table.Render()
}

func printStatistics(w io.Writer, allocator *suballoc.Allocator) error {
	stats := allocator.CalculateStatistics()

	table := newTable(w)
	table.Header([]string{"TYPE", "FLAGS", "SLABS", "DEDICATED", "ALLOCATED", "CHUNKS", "IN USE", "FREE CHUNKS", "FREE BYTES"})

	for memTypeIndex := 0; memTypeIndex < allocator.MemoryTypeCount(); memTypeIndex++ {
		if _, ok := allocator.Family(memTypeIndex); !ok {
			continue
		}

		typeStats := stats.MemoryTypes[memTypeIndex]
		row := []string{
			strconv.Itoa(memTypeIndex),
			allocator.MemoryTypeProperties(memTypeIndex).PropertyFlags.String(),
			strconv.Itoa(typeStats.SlabCount),
			strconv.Itoa(typeStats.DedicatedCount),
			strconv.Itoa(typeStats.AllocationBytes),
			strconv.Itoa(typeStats.ChunkCount),
			strconv.Itoa(typeStats.ChunkBytes),
			strconv.Itoa(typeStats.FreeChunkCount),
			strconv.Itoa(typeStats.FreeBytes()),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}

	return table.Render()
}
