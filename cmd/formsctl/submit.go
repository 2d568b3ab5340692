package main

import (
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-forms/pkg/forms/builder"
	"github.com/jwalitptl/clinic-forms/pkg/forms/manager"
	"github.com/jwalitptl/clinic-forms/pkg/forms/runner"
	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
	"github.com/jwalitptl/clinic-forms/pkg/forms/signature"
)

func newSubmitCommand(a *app) *cobra.Command {
	var answersFile, signatureFile, clientID string
	var preview bool

	cmd := &cobra.Command{
		Use:   "submit <template-id>",
		Short: "Fill in a template from a JSON answers file and submit it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			answers, err := readAnswers(answersFile)
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

			opts := runner.Options{}
			if clientID != "" {
				cid, err := uuid.Parse(clientID)
				if err != nil {
					return fmt.Errorf("invalid client id %q", clientID)
				}
				opts.ClientID = &cid
			}
			r, err := m.OpenRunner(t, opts)
			if err != nil {
				return err
			}
			defer func() { _ = m.CloseSubView(cmd.Context()) }()

			for _, f := range t.Fields {
				if v, ok := answers[f.ID]; ok && f.Type != schema.FieldSignature {
					r.SetAnswer(f.ID, v)
				}
			}
			if signatureFile != "" {
				dataURL, err := readSignature(signatureFile)
				if err != nil {
					return err
				}
				if err := r.SetSignature(&dataURL); err != nil {
					return err
				}
			}

			if preview {
				return printInputs(a.out, r.Inputs())
			}
			err = r.Submit(cmd.Context())
			fmt.Fprintln(a.out, r.Status().Message)
			return err
		},
	}
	cmd.Flags().StringVarP(&answersFile, "answers", "f", "-", "JSON object of field id to answer, - for stdin")
	cmd.Flags().StringVar(&signatureFile, "signature", "", "PNG image to attach as the signature")
	cmd.Flags().StringVar(&clientID, "client", "", "client the submission belongs to")
	cmd.Flags().BoolVar(&preview, "preview", false, "show the visible fields instead of submitting")
	return cmd
}

func newImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create a new draft template from an exported JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.ClinicID == "" {
				return fmt.Errorf("a clinic id is required to import")
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			var exp schema.Export
			if err := json.Unmarshal(raw, &exp); err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}
			if exp.Format != schema.ExportFormat {
				return fmt.Errorf("unsupported export format %d", exp.Format)
			}

			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			b, err := m.OpenBuilder(nil)
			if err != nil {
				return err
			}
			b.Import(exp)
			if err := saveAndClose(cmd, m, b); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s\t%s\n", *b.ID(), b.Name())
			return nil
		},
	}
}

func saveAndClose(cmd *cobra.Command, m *manager.Manager, b *builder.Builder) error {
	if err := b.Save(cmd.Context()); err != nil {
		return err
	}
	return m.CloseSubView(cmd.Context())
}

func readAnswers(path string) (schema.Answers, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open answers: %w", err)
		}
		defer f.Close()
		r = f
	}
	answers := schema.Answers{}
	if err := json.NewDecoder(r).Decode(&answers); err != nil {
		return nil, fmt.Errorf("failed to parse answers: %w", err)
	}
	return answers, nil
}

func readSignature(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open signature: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return "", fmt.Errorf("failed to decode signature: %w", err)
	}
	return signature.EncodeDataURL(img)
}

func printInputs(out io.Writer, inputs []runner.Input) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tLABEL\tKIND\tVALUE")
	for _, in := range inputs {
		value := in.Value
		if s, ok := value.(*string); ok {
			if s == nil {
				value = "-"
			} else {
				value = "(signed)"
			}
		}
		fmt.Fprintf(w, "%s\t%s%s\t%s\t%v\n", in.Field.ID, in.Field.Label, in.Marker, in.Kind, value)
	}
	return w.Flush()
}
