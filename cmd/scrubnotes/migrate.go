package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scrubnotes/internal/table"
)

func newMigrateCmd(g *globals) *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the surgeon, procedure, photo and account tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if printOnly {
				stmts, err := table.DDL(g.cfg.Storage.Driver)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, stmt := range stmts {
					fmt.Fprintf(out, "%s;\n", stmt)
				}
				return nil
			}
			store, err := table.Open(cmd.Context(), g.cfg.Storage)
			if err != nil {
				return err
			}
			g.log.Info("schema applied", zap.String("driver", string(store.Driver())))
			return store.Close()
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the DDL for the configured driver instead of applying it")
	return cmd
}
