package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nainya/contentvcs/pkg/content"
	"github.com/nainya/contentvcs/pkg/diff"
	"github.com/nainya/contentvcs/pkg/engine"
	"github.com/nainya/contentvcs/pkg/graph"
	"github.com/nainya/contentvcs/pkg/version"
)

func (a *app) initCmd() *cobra.Command {
	var (
		contentType string
		file        string
		author      string
		message     string
		tags        []string
	)
	cmd := &cobra.Command{
		Use:   "init <content-id>",
		Short: "Create a content item with its first version",
		Long: `Create a content item from a JSON object and record it as version 1
on the main branch. An initial backup is taken.

Example:
  contentvcs init nb1 --type notebook --file notebook.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := content.ParseContentType(contentType)
			if err != nil {
				return err
			}
			data, err := readContent(cmd, file)
			if err != nil {
				return err
			}
			res, err := a.engine.Init(cmd.Context(), version.InitRequest{
				ContentID: args[0], ContentType: ct, Data: data,
				AuthorID: author, Message: message, Tags: tags,
			})
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "type", string(content.TypeNotebook), "content type ("+contentTypeNames()+")")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the content (default stdin)")
	cmd.Flags().StringVar(&author, "author", "", "author id")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag the version")
	return cmd
}

func (a *app) commitCmd() *cobra.Command {
	var (
		branch     string
		file       string
		author     string
		message    string
		expectHead string
		tags       []string
	)
	cmd := &cobra.Command{
		Use:   "commit <content-id>",
		Short: "Record new content on a branch",
		Long: `Record the JSON object as the next version on a branch. Content equal
to the branch head is not recorded again.

Use --expect-head to fail instead of committing when someone else moved
the branch since you read it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readContent(cmd, file)
			if err != nil {
				return err
			}
			res, err := a.engine.Commit(cmd.Context(), version.CommitRequest{
				ContentID: args[0], Branch: branch, Data: data,
				AuthorID: author, Message: message, ExpectedHeadID: expectHead, Tags: tags,
			})
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", graph.DefaultBranch, "branch to commit on")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the content (default stdin)")
	cmd.Flags().StringVar(&author, "author", "", "author id")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&expectHead, "expect-head", "", "version id the branch head must still be")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag the version")
	return cmd
}

func (a *app) logCmd() *cobra.Command {
	var (
		branch string
		all    bool
		tag    string
	)
	cmd := &cobra.Command{
		Use:   "log <content-id>",
		Short: "Show the history of a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				versions []*graph.Version
				err      error
			)
			switch {
			case tag != "":
				versions, err = a.engine.FindByTag(args[0], tag)
			case all:
				versions, err = a.engine.History(cmd.Context(), args[0], "")
			default:
				versions, err = a.engine.History(cmd.Context(), args[0], branch)
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(versions) == 0 {
				fmt.Fprintln(w, "No versions found")
				return nil
			}
			for i := len(versions) - 1; i >= 0; i-- {
				printVersionLine(w, versions[i])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", graph.DefaultBranch, "branch to follow")
	cmd.Flags().BoolVar(&all, "all", false, "list every stored version")
	cmd.Flags().StringVar(&tag, "tag", "", "only versions with this tag")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <content-id> <version-id>",
		Short: "Print a version as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.engine.Get(args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
}

func (a *app) diffCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "diff <content-id> <from-version> <to-version>",
		Short: "Compare two versions key by key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.engine.Diff(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), d)
			}
			printDiff(cmd.OutOrStdout(), d)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the diff as JSON")
	return cmd
}

func (a *app) revertCmd() *cobra.Command {
	var (
		branch     string
		author     string
		message    string
		expectHead string
	)
	cmd := &cobra.Command{
		Use:   "revert <content-id> <version-id>",
		Short: "Commit the content of an earlier version",
		Long: `Revert a branch to the content of an earlier version. History is kept:
the old content is recorded as a new version on top of the head, and
the head is backed up first.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.engine.Revert(cmd.Context(), version.RevertRequest{
				ContentID: args[0], Branch: branch, TargetVersionID: args[1],
				AuthorID: author, Message: message, ExpectedHeadID: expectHead,
			})
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", graph.DefaultBranch, "branch to revert")
	cmd.Flags().StringVar(&author, "author", "", "author id")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&expectHead, "expect-head", "", "version id the branch head must still be")
	return cmd
}

func contentTypeNames() string {
	names := make([]string, len(content.ContentTypes))
	for i, ct := range content.ContentTypes {
		names[i] = string(ct)
	}
	return strings.Join(names, ", ")
}

func printResult(w io.Writer, res *engine.Result) {
	if !res.Changed {
		fmt.Fprintf(w, "No changes; head stays at version %d (%s)\n", res.Version.Number, res.Version.ID)
		return
	}
	fmt.Fprintf(w, "Created version %d (%s)\n", res.Version.Number, res.Version.ID)
	if res.Diff != nil {
		s := res.Diff.Summary
		fmt.Fprintf(w, "  %d added, %d modified, %d deleted\n", s.Added, s.Modified, s.Deleted)
	}
	if res.Backup != nil {
		fmt.Fprintf(w, "  backup %s (%s)\n", res.Backup.ID, res.Backup.Type)
	}
	if res.BackupErr != nil {
		fmt.Fprintf(w, "  warning: backup failed: %v\n", res.BackupErr)
	}
}

func printVersionLine(w io.Writer, v *graph.Version) {
	fmt.Fprintf(w, "%3d  %s  %s  %-12s %s", v.Number, v.ID, v.CreatedAt.Format("2006-01-02 15:04:05"), v.AuthorID, v.Message)
	if len(v.Tags) > 0 {
		fmt.Fprintf(w, "  %v", v.Tags)
	}
	fmt.Fprintln(w)
}

func printDiff(w io.Writer, d *diff.Diff) {
	if d.Empty() {
		fmt.Fprintln(w, "No differences")
		return
	}
	for _, c := range d.Changes {
		switch c.Type {
		case diff.ChangeAdded:
			fmt.Fprintf(w, "+ %s: %v\n", c.Path, c.NewValue)
		case diff.ChangeDeleted:
			fmt.Fprintf(w, "- %s: %v\n", c.Path, c.OldValue)
		default:
			fmt.Fprintf(w, "~ %s: %v -> %v\n", c.Path, c.OldValue, c.NewValue)
		}
	}
	s := d.Summary
	fmt.Fprintf(w, "%d added, %d modified, %d deleted\n", s.Added, s.Modified, s.Deleted)
}
