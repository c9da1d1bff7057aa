package main

//
// The profile subcommand
//

import (
	"github.com/apex/log"
	"github.com/ooni/esptls/internal/config"
	"github.com/spf13/cobra"
)

func newProfileCommand(globals *globalOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "profile FILE",
		Short: "Write a profile with the default settings, or check the --profile one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) <= 0 {
				profile, err := config.ReadConfig(globals.profile)
				if err != nil {
					return err
				}
				log.Infof("profile %s is valid (version %d)", profile.Path(), profile.Version)
				return nil
			}
			if _, err := config.ReadConfig(args[0]); err == nil && !force {
				log.Warnf("profile %s already exists, use --force to overwrite it", args[0])
				return nil
			}
			if err := config.Default().Write(args[0]); err != nil {
				return err
			}
			log.Infof("written profile %s", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing profile")
	return cmd
}
