package cli

import (
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Publish random-walk ticks to the exchange channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Generate(cmd.Context())
	},
}
