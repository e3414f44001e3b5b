package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configFile string
	json       bool
}

func newRootCmd(build appBuilder) *cobra.Command {
	flags := &rootFlags{}
	app := &appContainer{}

	rootCmd := &cobra.Command{
		Use:   "cmsctl",
		Short: "cmsctl operates a simple-cms content store.",
		Long: `An operator CLI for the object store behind simple-cms. List drafts,
find and resolve interrupted publishes, and migrate content stored under
the legacy path-keyed layout.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			built, err := build(flags.configFile)
			if err != nil {
				return err
			}
			*app = *built
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "optional YAML or TOML configuration file")
	rootCmd.PersistentFlags().BoolVar(&flags.json, "json", false, "print results as JSON")

	out := func(cmd *cobra.Command) printer {
		return printer{out: cmd.OutOrStdout(), json: flags.json}
	}

	rootCmd.AddCommand(newUnpublishedCmd(app, out))
	rootCmd.AddCommand(newReconcileCmd(app, out))
	rootCmd.AddCommand(newMigrateCmd(app, out))
	return rootCmd
}
