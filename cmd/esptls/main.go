// Command esptls connects to a TCP or TLS server using the esptls package.
package main

import (
	"os"

	"github.com/apex/log"
	"github.com/ooni/esptls/internal/runtimex"
	"github.com/spf13/cobra"
)

// globalOptions contains the flags shared by all subcommands.
type globalOptions struct {
	profile string
	verbose bool
}

func newRootCommand() *cobra.Command {
	globals := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "esptls",
		Short:         "Establish TCP and TLS connections and inspect their failures",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetHandler(newLogHandler(os.Stderr))
			log.SetLevel(log.InfoLevel)
			if globals.verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&globals.profile, "profile", "", "Read settings from the given JSON profile")
	flags.BoolVarP(&globals.verbose, "verbose", "v", false, "Enable verbose log output")
	cmd.AddCommand(newConnectCommand(globals))
	cmd.AddCommand(newProfileCommand(globals))
	return cmd
}

func main() {
	defer runtimex.CatchLogAndIgnorePanic(log.Log, "esptls")
	if err := newRootCommand().Execute(); err != nil {
		log.WithError(err).Error("esptls failed")
		os.Exit(1)
	}
}
