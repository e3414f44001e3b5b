package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-cms/pkg/simplecms/keyspace"
	"github.com/tendant/simple-cms/pkg/simplecms/migrate"
)

func newMigrateCmd(app *appContainer, out func(*cobra.Command) printer) *cobra.Command {
	var dryRun bool

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move legacy path-keyed objects to slug keys",
	}
	migrateCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "plan every step without writing")

	printSteps := func(cmd *cobra.Command, v any, steps []migrate.Step) error {
		rows := make([][]string, 0, len(steps))
		for _, s := range steps {
			rows = append(rows, []string{s.Namespace, s.SourceKey, s.TargetKey, string(s.Action), s.Reason})
		}
		return out(cmd).Table(v, []string{"NAMESPACE", "SOURCE", "TARGET", "ACTION", "REASON"}, rows)
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate every legacy object",
		Long: `Copies every legacy object to its slug key with slug metadata and then
deletes the source. An interrupted run is resumed by running it again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := migrate.New(app.Repository, app.Logger).Run(cmd.Context(), migrate.Options{DryRun: dryRun})
			if err != nil {
				return err
			}
			if err := printSteps(cmd, result, result.Steps); err != nil {
				return err
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d objects could not be migrated", result.Failed)
			}
			return nil
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path [unpublished|published] [raw-path]",
		Short: "Migrate one object addressed by its legacy path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ns keyspace.Namespace
			switch args[0] {
			case "unpublished":
				ns = keyspace.Unpublished
			case "published":
				ns = keyspace.Published
			default:
				return fmt.Errorf("unknown namespace %q (use unpublished or published)", args[0])
			}

			step, err := migrate.New(app.Repository, app.Logger).MigratePath(cmd.Context(), ns, args[1], migrate.Options{DryRun: dryRun})
			if err != nil {
				return err
			}
			return printSteps(cmd, step, []migrate.Step{step})
		},
	}

	migrateCmd.AddCommand(runCmd, pathCmd)
	return migrateCmd
}
