package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
)

const version = "1.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "inlet",
		Short:         "Windowed ingestion from message buses and sockets",
		Version:       fmt.Sprintf("%s (config schema %s)", version, config.CurrentConfigVersion),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCommand(),
		newValidateCommand(),
		newInitCommand(),
	)
	return root
}
