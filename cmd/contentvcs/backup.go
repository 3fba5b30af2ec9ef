package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nainya/contentvcs/pkg/backup"
	"github.com/nainya/contentvcs/pkg/graph"
)

func (a *app) backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore backups",
	}

	var backupType string
	create := &cobra.Command{
		Use:   "create <content-id> [version-id]",
		Short: "Back up a version (default main head)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := backup.ParseType(backupType)
			if err != nil {
				return err
			}
			versionID := ""
			if len(args) == 2 {
				versionID = args[1]
			} else {
				head, err := a.engine.GetHead(args[0], graph.DefaultBranch)
				if err != nil {
					return err
				}
				versionID = head.ID
			}
			rec, err := a.engine.RequestBackup(cmd.Context(), args[0], versionID, t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created backup %s of %s, kept until %s\n",
				rec.ID, rec.VersionSnapshot, rec.RetentionUntil.Format("2006-01-02"))
			return nil
		},
	}
	create.Flags().StringVar(&backupType, "type", string(backup.TypeManual), "backup type")

	list := &cobra.Command{
		Use:   "list <content-id>",
		Short: "List backups in creation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			records := a.engine.ListBackups(args[0])
			if len(records) == 0 {
				fmt.Fprintln(w, "No backups found")
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(w, "%s  %-19s %s  until %s\n",
					r.ID, r.Type, r.VersionSnapshot, r.RetentionUntil.Format("2006-01-02"))
			}
			return nil
		},
	}

	var (
		author string
		branch string
	)
	restore := &cobra.Command{
		Use:   "restore <content-id> <backup-id>",
		Short: "Commit the content a backup refers to",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.engine.Restore(cmd.Context(), args[0], args[1], author, branch)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	restore.Flags().StringVar(&author, "author", "", "author id")
	restore.Flags().StringVarP(&branch, "branch", "b", graph.DefaultBranch, "branch to restore onto")

	cmd.AddCommand(create, list, restore)
	return cmd
}
