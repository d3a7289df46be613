package main

import (
	"strconv"

	"github.com/spf13/cobra"
	"github.com/vkngwrapper/slab/simdevice"
)

func typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the simulated device's memory types and heaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := simdevice.New(simdevice.DefaultOptions())
			if err != nil {
				return err
			}

			properties := dev.MemoryProperties()

			table := newTable(cmd.OutOrStdout())
			table.Header([]string{"TYPE", "FLAGS", "HEAP", "HEAP SIZE", "HEAP FLAGS"})
			for memTypeIndex, memType := range properties.MemoryTypes {
				heap := properties.MemoryHeaps[memType.HeapIndex]
				err = table.Append([]string{
					strconv.Itoa(memTypeIndex),
					memType.PropertyFlags.String(),
					strconv.Itoa(memType.HeapIndex),
					strconv.Itoa(heap.Size),
					heap.Flags.String(),
				})
				if err != nil {
					return err
				}
			}

			return table.Render()
		},
	}
}
