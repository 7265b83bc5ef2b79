package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"schemascan/internal/db"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the registered backend types",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range db.RegisteredDialects() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}
