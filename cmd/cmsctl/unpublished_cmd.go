package main

import (
	"strconv"

	"github.com/spf13/cobra"
)

func newUnpublishedCmd(app *appContainer, out func(*cobra.Command) printer) *cobra.Command {
	unpublishedCmd := &cobra.Command{
		Use:   "unpublished",
		Short: "Inspect drafts of the editorial workflow",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every draft with its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := app.Repository.ListUnpublishedEntries(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Entry.Collection, e.Entry.Slug, e.Status.String(), strconv.FormatBool(e.IsModification), e.Metadata.Title})
			}
			return out(cmd).Table(entries, []string{"COLLECTION", "SLUG", "STATUS", "MODIFICATION", "TITLE"}, rows)
		},
	}

	unpublishedCmd.AddCommand(listCmd)
	return unpublishedCmd
}
