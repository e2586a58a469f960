package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tidelog/tidelog/internal/sample"
)

var pushCmd = &cobra.Command{
	Use:   "push <timestamp> <value> <decimals> <tag>",
	Short: "Push one sample onto the tail of the FIFO",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("push: bad timestamp %q: %w", args[0], err)
		}
		value, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("push: bad value %q: %w", args[1], err)
		}
		decimals, err := strconv.ParseUint(args[2], 10, 8)
		if err != nil {
			return fmt.Errorf("push: bad decimals %q: %w", args[2], err)
		}
		if len(args[3]) == 0 || len(args[3]) > 4 {
			return fmt.Errorf("push: tag must be 1-4 ASCII characters, got %q", args[3])
		}

		s := sample.Sample{
			Timestamp: uint32(ts),
			Value:     int32(value),
			Decimals:  uint8(decimals),
			Tag:       sample.TagFromString(args[3]),
		}
		ok, err := activeFIFO.Push(cmd.Context(), s)
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}
		if !ok {
			return fmt.Errorf("push: region not valid")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)
}
