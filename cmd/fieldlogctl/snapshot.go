package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidelog/tidelog/internal/snapshot"
)

var (
	snapshotDir         string
	snapshotMaxSegBytes int64
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Pull or restore a raw compressed image of the FIFO region",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the region to file (or stdout) as a zstd stream, or to --dir as numbered segments",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		regionSectors := firstSector + dataSectors
		if snapshotDir != "" {
			names, err := snapshot.ExportSegmented(cmd.Context(), activeFIFO.Dev, regionSectors, snapshotDir, snapshotMaxSegBytes)
			if err != nil {
				return fmt.Errorf("snapshot export: %w", err)
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		}

		out := os.Stdout
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("snapshot export: %w", err)
			}
			defer f.Close()
			out = f
		}
		if err := snapshot.Export(cmd.Context(), activeFIFO.Dev, regionSectors, out); err != nil {
			return fmt.Errorf("snapshot export: %w", err)
		}
		return nil
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Restore the region from file (or stdin), or from --dir's numbered segments",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotDir != "" {
			if err := snapshot.ImportSegmented(cmd.Context(), activeFIFO.Dev, snapshotDir); err != nil {
				return fmt.Errorf("snapshot import: %w", err)
			}
			return nil
		}

		in := os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("snapshot import: %w", err)
			}
			defer f.Close()
			in = f
		}
		if err := snapshot.Import(cmd.Context(), activeFIFO.Dev, in); err != nil {
			return fmt.Errorf("snapshot import: %w", err)
		}
		return nil
	},
}

func init() {
	snapshotCmd.PersistentFlags().StringVar(&snapshotDir, "dir", "", "segment directory, instead of a single file/stream")
	snapshotExportCmd.Flags().Int64Var(&snapshotMaxSegBytes, "max-segment-bytes", snapshot.DefaultMaxSegmentBytes, "size cap per segment file, used only with --dir")
	snapshotCmd.AddCommand(snapshotExportCmd, snapshotImportCmd)
	rootCmd.AddCommand(snapshotCmd)
}
