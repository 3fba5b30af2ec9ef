package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nainya/contentvcs/pkg/merge"
)

func (a *app) mergeCmd() *cobra.Command {
	var (
		author  string
		message string
	)
	cmd := &cobra.Command{
		Use:   "merge <content-id> <source-branch> <target-branch>",
		Short: "Merge one branch into another",
		Long: `Merge the head of the source branch into the target branch.

Keys present on both sides with different text or numbers are reported
as conflicts and nothing is committed. Otherwise a merge version is
recorded on the target branch.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.engine.Merge(cmd.Context(), merge.Input{
				ContentID: args[0], SourceBranch: args[1], TargetBranch: args[2],
				AuthorID: author, Message: message,
			})
			if req != nil {
				printMerge(cmd.OutOrStdout(), req)
			}
			if err != nil {
				return err
			}
			if req.Status == merge.StatusConflict {
				return fmt.Errorf("merge %s has %d conflicts", req.ID, len(req.Conflicts))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "author id")
	cmd.Flags().StringVarP(&message, "message", "m", "", "merge commit message")
	return cmd
}

func (a *app) mergesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merges <content-id>",
		Short: "List merge requests of a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, req := range a.engine.ListMerges(args[0]) {
				fmt.Fprintf(w, "%s  %-9s %s -> %s  %s\n",
					req.ID, req.Status, req.SourceBranch, req.TargetBranch, req.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func printMerge(w io.Writer, req *merge.Request) {
	fmt.Fprintf(w, "Merge %s: %s\n", req.ID, req.Status)
	switch req.Status {
	case merge.StatusSuccess:
		fmt.Fprintf(w, "  %s is now at %s\n", req.TargetBranch, req.ResultVersionID)
	case merge.StatusConflict:
		for _, c := range req.Conflicts {
			fmt.Fprintf(w, "  conflict %s: source=%v target=%v\n", c.Path, c.SourceValue, c.TargetValue)
		}
	}
}
