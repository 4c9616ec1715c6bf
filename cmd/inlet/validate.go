package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/codec"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/window"
)

func newValidateCommand() *cobra.Command {
	var configFile string

	command := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file without connecting to anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ValidateAndLoad(configFile)
			if err != nil {
				return err
			}
			if _, err := windowConfig(cfg.Window); err != nil {
				return err
			}
			// compiles inline and file schemas
			if _, err := codec.NewDecoder(cfg.Codec, zap.NewNop()); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "configuration %s is valid\n", configFile)
			fmt.Fprintf(w, "  adapter: %s (%s) %s\n", cfg.Adapter.Name, cfg.Adapter.Type, cfg.Adapter.Endpoint)
			fmt.Fprintf(w, "  buffer:  capacity %d, blast size %d\n", cfg.Adapter.BufferCapacity, cfg.Adapter.BlastSize)
			fmt.Fprintf(w, "  window:  %s, tick %s\n", cfg.Window.Width, cfg.Window.TickWidth)
			fmt.Fprintf(w, "  codec:   %s\n", cfg.Codec.Format)
			fmt.Fprintf(w, "  sinks:   %d log, %d kafka, %d timescaledb\n",
				len(cfg.Sinks.Log), len(cfg.Sinks.Kafka), len(cfg.Sinks.TimescaleDB))
			return nil
		},
	}

	command.Flags().StringVarP(&configFile, "config", "c", "inlet.yaml", "Path to configuration file")
	return command
}

func newInitCommand() *cobra.Command {
	var (
		configFile string
		profile    string
	)

	command := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			switch profile {
			case "default":
				cfg = config.DefaultConfig()
			case "development":
				cfg = config.DevelopmentConfig()
			case "production":
				cfg = config.ProductionConfig()
			default:
				return fmt.Errorf("unknown profile %q (default, development, production)", profile)
			}

			if err := config.SaveConfig(cfg, configFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s configuration to %s\n", profile, configFile)
			return nil
		},
	}

	command.Flags().StringVarP(&configFile, "config", "c", "inlet.yaml", "Path to write")
	command.Flags().StringVar(&profile, "profile", "default", "Configuration profile (default, development, production)")
	return command
}

func windowConfig(cfg config.WindowConfig) (window.Config, error) {
	wc := window.Config{
		FirstWindow: cfg.FirstWindow(time.Now()),
		WindowWidth: cfg.Width,
		TickWidth:   cfg.TickWidth,
	}
	return wc, wc.Validate()
}
