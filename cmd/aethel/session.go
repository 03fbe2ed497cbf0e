package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/martinemde/aethel/agentloop"
	"github.com/martinemde/aethel/store"
	"github.com/spf13/cobra"
)

func (c *cli) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect persisted sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print a persisted session record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(c.cfg.Store.Kind, c.cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			state, err := st.Load(cmd.Context(), args[0])
			if errors.Is(err, agentloop.ErrSessionNotFound) {
				return fmt.Errorf("session %s not found", args[0])
			}
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, string(data))
			return nil
		},
	})
	return cmd
}
