package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-forms/pkg/forms/manager"
	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

func newTemplatesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"t"},
		Short:   "List and manage form templates",
	}

	cmd.AddCommand(
		newListCommand(a),
		newCategoriesCommand(a),
		newPublishCommand(a, true),
		newPublishCommand(a, false),
		newFavoriteCommand(a),
		newDuplicateCommand(a),
		newDeleteCommand(a),
		newExportCommand(a),
		newSubmissionsCommand(a),
		newVersionsCommand(a),
	)
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	filter := manager.DefaultFilter()
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			m.SetFilter(filter)
			templates := m.Filtered()
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(schema.TemplateList{Templates: templates})
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tVERSION\tCATEGORY\tSUBMISSIONS\tCOMPLETION\tFAVORITE")
			for _, t := range templates {
				fav := ""
				if t.IsFavorite {
					fav = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\tv%d\t%s\t%d\t%.1f%%\t%s\n",
					t.ID, t.Name, t.Status(), t.Version, t.Category, t.SubmissionCount, t.CompletionRate, fav)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.Search, "search", "", "match name or description")
	cmd.Flags().StringVar(&filter.Category, "category", manager.CategoryAll, "category to show")
	cmd.Flags().StringVar(&filter.Status, "status", manager.StatusAll, "published, draft or all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newCategoriesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the categories in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()
			for _, c := range m.Categories() {
				fmt.Fprintln(a.out, c)
			}
			return nil
		},
	}
}

func newPublishCommand(a *app, publish bool) *cobra.Command {
	use, short := "publish <template-id>", "Publish a template"
	if !publish {
		use, short = "unpublish <template-id>", "Return a template to draft"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			if publish {
				err = m.Publish(cmd.Context(), id)
			} else {
				err = m.Unpublish(cmd.Context(), id)
			}
			a.printToasts(m)
			return err
		},
	}
}

func newFavoriteCommand(a *app) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "favorite <template-id>",
		Short: "Mark a template as favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			err = m.SetFavorite(cmd.Context(), id, !remove)
			a.printToasts(m)
			return err
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "unmark instead")
	return cmd
}

func newDuplicateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate <template-id>",
		Short: "Copy a template into a new draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			t, ok := find(m, id)
			if !ok {
				return manager.ErrTemplateNotFound
			}
			dup, err := m.Duplicate(cmd.Context(), t)
			a.printToasts(m)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s\t%s\n", dup.ID, dup.Name)
			return nil
		},
	}
}

func newDeleteCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <template-id>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			err = m.Delete(cmd.Context(), id, func(t schema.Template) bool {
				if !yes {
					fmt.Fprintf(a.out, "refusing to delete %q without --yes\n", t.Name)
				}
				return yes
			})
			a.printToasts(m)
			return err
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the deletion")
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export <template-id>",
		Short: "Download a template as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			if dir == "-" {
				_, err = m.Export(cmd.Context(), id, a.out)
				return err
			}
			path, err := m.ExportFile(cmd.Context(), id, dir)
			a.printToasts(m)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to write to, - for stdout")
	return cmd
}

func newSubmissionsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "submissions <template-id>",
		Short: "List the submissions of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := a.selection(cmd, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSUBMITTED\tCLIENT\tANSWERS\tSIGNED")
			for _, s := range sel.Submissions {
				client := "-"
				if s.ClientID != nil {
					client = s.ClientID.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\n",
					s.ID, s.CreatedAt.Format(time.RFC3339), client, len(s.Data), s.SignatureDataURL != nil)
			}
			return w.Flush()
		},
	}
}

func newVersionsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <template-id>",
		Short: "Show the version history of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := a.selection(cmd, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tCREATED\tFIELDS\tPUBLISHED\tCHANGES")
			for _, v := range sel.Versions {
				published := "-"
				if v.PublishedAt != nil {
					published = v.PublishedAt.Format(time.RFC3339)
					if v.PublishedBy != nil {
						published += " by " + *v.PublishedBy
					}
				}
				fmt.Fprintf(w, "v%d\t%s\t%d\t%s\t%s\n",
					v.Version, v.CreatedAt.Format(time.RFC3339), len(v.Schema), published, strings.TrimSpace(v.ChangeLog))
			}
			return w.Flush()
		},
	}
}

// selection selects the template named by arg and waits for its
// submissions and versions.
func (a *app) selection(cmd *cobra.Command, arg string) (*manager.Selection, error) {
	id, err := parseID(arg)
	if err != nil {
		return nil, err
	}
	m, err := a.manager(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer m.Close()

	if err := m.Select(cmd.Context(), id); err != nil {
		return nil, err
	}
	return m.Selection(), nil
}

func find(m *manager.Manager, id uuid.UUID) (schema.Template, bool) {
	for _, t := range m.Templates() {
		if t.ID == id {
			return t, true
		}
	}
	return schema.Template{}, false
}
