package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"pkg.world.dev/world-engine/entitystore/query"
	"pkg.world.dev/world-engine/entitystore/store"
	"pkg.world.dev/world-engine/entitystore/types"
)

type componentView struct {
	ID      types.ComponentID `json:"id"`
	DefURI  string            `json:"uri"`
	DefHash string            `json:"hash"`
	Data    map[string]any    `json:"data"`
}

type entityView struct {
	ID         types.EntityID  `json:"id"`
	Bitfield   string          `json:"bitfield"`
	Components []componentView `json:"components"`
}

func viewEntity(e *types.Entity) entityView {
	v := entityView{ID: e.ID, Bitfield: e.Bitfield.String(), Components: []componentView{}}
	for _, c := range e.Components {
		v.Components = append(v.Components, componentView{ID: c.ID, DefURI: c.DefURI, DefHash: c.DefHash, Data: c.Data})
	}
	sort.Slice(v.Components, func(i, j int) bool { return v.Components[i].ID < v.Components[j].ID })
	return v
}

func newKeysCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Print every key in the store",
		Args:  cobra.NoArgs,
		RunE: opts.withStore(func(cmd *cobra.Command, _ []string, s *store.Store) error {
			all, err := s.Keys(cmd.Context())
			if err != nil {
				return err
			}
			printable := make([]string, len(all))
			for i, k := range all {
				printable[i] = strconv.QuoteToASCII(string(k))
			}
			return opts.output(cmd.OutOrStdout(), printable, func(w io.Writer) error {
				for _, k := range printable {
					if _, err := fmt.Fprintln(w, k); err != nil {
						return err
					}
				}
				return nil
			})
		}),
	}
}

func newSizeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "Print the number of entities",
		Args:  cobra.NoArgs,
		RunE: opts.withStore(func(cmd *cobra.Command, _ []string, s *store.Store) error {
			n, err := s.Size(cmd.Context())
			if err != nil {
				return err
			}
			return opts.output(cmd.OutOrStdout(), map[string]int{"size": n}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, n)
				return err
			})
		}),
	}
}

func newDefsCommand(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "defs",
		Short: "List the latest version of every component definition, or every version with --all",
		Args:  cobra.NoArgs,
		RunE: opts.withStore(func(cmd *cobra.Command, _ []string, s *store.Store) error {
			defs := s.Registry().Defs()
			if !all {
				var err error
				if defs, err = s.ComponentDefs(cmd.Context()); err != nil {
					return err
				}
			}
			return opts.output(cmd.OutOrStdout(), defs, func(w io.Writer) error {
				for _, def := range defs {
					if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", def.LocalID, def.Hash, def.URI); err != nil {
						return err
					}
				}
				return nil
			})
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every registered version")
	return cmd
}

func newEntityCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entity <id>",
		Short: "Print an entity and its components",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withStore(func(cmd *cobra.Command, args []string, s *store.Store) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return eris.Wrapf(err, "invalid entity id %q", args[0])
			}
			e, err := s.ReadEntityByID(cmd.Context(), types.EntityID(id))
			if err != nil {
				return err
			}
			v := viewEntity(e)
			return opts.output(cmd.OutOrStdout(), v, func(w io.Writer) error {
				if _, err := fmt.Fprintf(w, "entity %d [%s]\n", v.ID, v.Bitfield); err != nil {
					return err
				}
				for _, c := range v.Components {
					if _, err := fmt.Fprintf(w, "  %d\t%s\t%v\n", c.ID, c.DefURI, c.Data); err != nil {
						return err
					}
				}
				return nil
			})
		}),
	}
}

func newQueryCommand(opts *rootOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "query <cql>",
		Short: "Print the entities matching a component query",
		Long: `Run a component query, for example:

  entitystore query 'CONTAINS(position) & !CONTAINS("/game/frozen")'`,
		Args: cobra.ExactArgs(1),
		RunE: opts.withStore(func(cmd *cobra.Command, args []string, s *store.Store) error {
			result, err := s.QueryCQL(cmd.Context(), args[0], query.WithLimit(limit), query.WithOffset(offset))
			if err != nil {
				return err
			}
			views := make([]entityView, len(result.Entities))
			for i, e := range result.Entities {
				views[i] = viewEntity(e)
			}
			return opts.output(cmd.OutOrStdout(), views, func(w io.Writer) error {
				for _, v := range views {
					if _, err := fmt.Fprintf(w, "%d\t%s\n", v.ID, v.Bitfield); err != nil {
						return err
					}
				}
				_, err := fmt.Fprintf(w, "%d matched, %d scanned\n", len(views), result.Scanned)
				return err
			})
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many matches (0 means no limit)")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many filter matches")
	return cmd
}

func newClearCommand(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every key in the store",
		Args:  cobra.NoArgs,
		RunE: opts.withStore(func(cmd *cobra.Command, _ []string, s *store.Store) error {
			if !yes {
				return eris.New("refusing to clear the store without --yes")
			}
			if err := s.Clear(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "store cleared")
			return err
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm that every key should be deleted")
	return cmd
}
