package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-forms/pkg/formclient"
	"github.com/jwalitptl/clinic-forms/pkg/forms/manager"
)

// Config is read from FORMS_* environment variables. Flags override it.
type Config struct {
	APIURL        string        `envconfig:"API_URL" default:"http://localhost:8080"`
	ClinicID      string        `envconfig:"CLINIC_ID"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"15s"`
	User          string        `envconfig:"USER"`
	RedisURL      string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	EventsChannel string        `envconfig:"EVENTS_CHANNEL" default:"forms.events"`
}

type app struct {
	cfg    Config
	out    io.Writer
	newAPI func(cfg Config) manager.API
}

func newApp(out io.Writer) *app {
	return &app{
		out: out,
		newAPI: func(cfg Config) manager.API {
			return formclient.New(cfg.APIURL, formclient.WithTimeout(cfg.Timeout))
		},
	}
}

func newRootCommand(a *app) *cobra.Command {
	var apiURL, clinicID string

	cmd := &cobra.Command{
		Use:           "formsctl",
		Short:         "Manage clinic form templates, submissions and versions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := envconfig.Process("forms", &a.cfg); err != nil {
				return fmt.Errorf("failed to read environment: %w", err)
			}
			if apiURL != "" {
				a.cfg.APIURL = apiURL
			}
			if clinicID != "" {
				a.cfg.ClinicID = clinicID
			}
			if a.cfg.ClinicID != "" {
				if _, err := uuid.Parse(a.cfg.ClinicID); err != nil {
					return fmt.Errorf("invalid clinic id %q", a.cfg.ClinicID)
				}
			}
			return nil
		},
	}
	cmd.SetOut(a.out)
	cmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "forms API base URL (FORMS_API_URL)")
	cmd.PersistentFlags().StringVar(&clinicID, "clinic", "", "clinic id to scope templates to (FORMS_CLINIC_ID)")

	cmd.AddCommand(newTemplatesCommand(a))
	cmd.AddCommand(newSubmitCommand(a))
	cmd.AddCommand(newImportCommand(a))
	cmd.AddCommand(newEventsCommand(a))
	cmd.AddCommand(newMigrateCommand(a))

	return cmd
}

// manager opens a template manager against the API and loads the list.
func (a *app) manager(ctx context.Context) (*manager.Manager, error) {
	opts := manager.Options{ClinicID: a.cfg.ClinicID}
	if a.cfg.User != "" {
		user := a.cfg.User
		opts.PublishedBy = &user
	}
	m := manager.New(ctx, a.newAPI(a.cfg), opts)
	if err := m.Refresh(ctx); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// printToasts writes the manager's notifications and clears them.
func (a *app) printToasts(m *manager.Manager) {
	for _, t := range m.Toasts() {
		fmt.Fprintf(a.out, "[%s] %s\n", t.Kind, t.Message)
	}
	m.DismissToasts()
}

func parseID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid template id %q", arg)
	}
	return id, nil
}
