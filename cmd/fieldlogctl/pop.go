package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tidelog/tidelog/internal/sample"
)

func printSample(s sample.Sample) {
	fmt.Printf("%d %s %s\n", s.Timestamp, sample.RenderDecimal(s.Value, s.Decimals), s.Tag.String())
}

var popCmd = &cobra.Command{
	Use:   "pop",
	Short: "Consume and print the oldest sample",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ok, err := activeFIFO.Pop(cmd.Context())
		if err != nil {
			return fmt.Errorf("pop: %w", err)
		}
		if !ok {
			return fmt.Errorf("pop: fifo is empty")
		}
		printSample(s)
		return nil
	},
}

var peekCmd = &cobra.Command{
	Use:   "peek [offset]",
	Short: "Print a sample without consuming it (offset 0 = oldest)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var offset uint64
		if len(args) == 1 {
			var err error
			offset, err = strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("peek: bad offset %q: %w", args[0], err)
			}
		}
		s, ok, err := activeFIFO.Peek(cmd.Context(), uint32(offset))
		if err != nil {
			return fmt.Errorf("peek: %w", err)
		}
		if !ok {
			return fmt.Errorf("peek: offset %d is beyond the current count", offset)
		}
		printSample(s)
		return nil
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop <n>",
	Short: "Discard the n oldest samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("drop: bad count %q: %w", args[0], err)
		}
		ok, err := activeFIFO.Drop(cmd.Context(), uint32(n))
		if err != nil {
			return fmt.Errorf("drop: %w", err)
		}
		if !ok {
			fmt.Println("fifo emptied before dropping the requested count")
		}
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of samples currently stored",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := activeFIFO.Count(cmd.Context())
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}
		fmt.Println(n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(popCmd, peekCmd, dropCmd, countCmd)
}
