package main

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"pkg.world.dev/world-engine/entitystore/config"
	"pkg.world.dev/world-engine/entitystore/store"
)

var validFormats = []string{"text", "json"}

// opener opens the store a command works on.
type opener func(ctx context.Context) (*store.Store, error)

type rootOptions struct {
	format string
	open   opener
}

func openFromEnv(ctx context.Context) (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Apply(); err != nil {
		return nil, err
	}
	return cfg.OpenStore(ctx)
}

// newRootCommand builds the CLI. A nil open reads the store settings from the environment.
func newRootCommand(open opener) *cobra.Command {
	opts := &rootOptions{open: open}
	if opts.open == nil {
		opts.open = openFromEnv
	}

	cmd := &cobra.Command{
		Use:           "entitystore",
		Short:         "Inspect an entity store",
		Long:          "Inspect, query and reset an entity store. The store is selected with ENTITYSTORE_* variables.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !isValidFormat(opts.format) {
				return eris.Errorf("invalid format %q: must be one of %v", opts.format, validFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		newKeysCommand(opts),
		newSizeCommand(opts),
		newDefsCommand(opts),
		newEntityCommand(opts),
		newQueryCommand(opts),
		newClearCommand(opts),
	)
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

type storeRunE func(cmd *cobra.Command, args []string, s *store.Store) error

// withStore opens the store for the duration of fn.
func (o *rootOptions) withStore(fn storeRunE) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		s, err := o.open(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := s.Close(cmd.Context()); err == nil {
				err = closeErr
			}
		}()
		return fn(cmd, args, s)
	}
}

// output writes v as JSON in json mode, otherwise calls text.
func (o *rootOptions) output(w io.Writer, v any, text func(io.Writer) error) error {
	if o.format == "json" {
		bz, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return eris.Wrap(err, "")
		}
		_, err = fmt.Fprintln(w, string(bz))
		return err
	}
	return text(w)
}
