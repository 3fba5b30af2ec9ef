package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nainya/contentvcs/pkg/branch"
	"github.com/nainya/contentvcs/pkg/graph"
)

func (a *app) branchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Manage the branches of a content item",
	}

	var (
		from        string
		author      string
		description string
	)
	create := &cobra.Command{
		Use:   "create <content-id> <name>",
		Short: "Start a branch at a version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				head, err := a.engine.GetHead(args[0], graph.DefaultBranch)
				if err != nil {
					return err
				}
				from = head.ID
			}
			b, err := a.engine.CreateBranch(cmd.Context(), branch.CreateRequest{
				ContentID: args[0], Name: args[1], FromVersionID: from,
				AuthorID: author, Description: description,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created branch %s at %s\n", b.Name, b.HeadVersionID)
			return nil
		},
	}
	create.Flags().StringVar(&from, "from", "", "version to start from (default main head)")
	create.Flags().StringVar(&author, "author", "", "author id")
	create.Flags().StringVar(&description, "description", "", "what the branch is for")

	var all bool
	list := &cobra.Command{
		Use:   "list <content-id>",
		Short: "List branches in creation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			branches, err := a.engine.ListBranches(args[0], all)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, b := range branches {
				state := "active"
				if !b.Active {
					state = "inactive"
				}
				fmt.Fprintf(w, "%-20s %s  %-8s %s\n", b.Name, b.HeadVersionID, state, b.Description)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include inactive branches")

	del := &cobra.Command{
		Use:     "delete <content-id> <name>",
		Aliases: []string{"deactivate"},
		Short:   "Deactivate a branch",
		Long: `Deactivate a branch. Its versions are kept and the name can be used
again for a new branch.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.engine.DeactivateBranch(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated branch %s\n", args[1])
			return nil
		},
	}

	cmd.AddCommand(create, list, del)
	return cmd
}
