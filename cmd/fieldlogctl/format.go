package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Erase the FIFO region and reinitialize it to empty",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := activeFIFO.Format(cmd.Context()); err != nil {
			return fmt.Errorf("format: %w", err)
		}
		fmt.Println("formatted")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(formatCmd)
}
