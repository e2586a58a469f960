package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidelog/tidelog/internal/config"
	"github.com/tidelog/tidelog/internal/s4pp"
	"github.com/tidelog/tidelog/internal/transport"
)

var (
	configPath   string
	uploadSerial string
	uploadBaud   int
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Drain the FIFO to the configured S4PP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return fmt.Errorf("upload: --config is required")
		}
		cfg, err := config.LoadTOML(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		var tr s4pp.Transport
		if uploadSerial != "" {
			tr = transport.NewSerialTransport(uploadSerial, uploadBaud)
		} else {
			tr = transport.NewTCPTransport(cfg.Server, cfg.Port, cfg.Secure)
		}
		iter := s4pp.NewPeekIterator(activeFIFO)
		iter.UnitDiv = "1"

		config.BeginUpload()
		defer config.EndUpload()

		var ackedTotal int
		sess := s4pp.NewSession(cfg, tr, iter, func(err error, acked int) {
			ackedTotal = acked
		})
		if err := sess.Run(context.Background()); err != nil {
			return fmt.Errorf("upload: %w", err)
		}

		if _, err := activeFIFO.Drop(cmd.Context(), uint32(ackedTotal)); err != nil {
			return fmt.Errorf("upload: drop acknowledged samples: %w", err)
		}
		fmt.Printf("uploaded and dropped %d samples\n", ackedTotal)
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVar(&configPath, "config", "", "path to a TOML upload configuration")
	uploadCmd.Flags().StringVar(&uploadSerial, "serial", "", "upload over a serial port instead of TCP (e.g. /dev/ttyUSB0), for units without a network stack")
	uploadCmd.Flags().IntVar(&uploadBaud, "baud", 115200, "baud rate, used only with --serial")
	rootCmd.AddCommand(uploadCmd)
}
