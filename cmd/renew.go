package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var renewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Extend the lease in the lease file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := eng.Renew(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Renewed lease on partition %q (new expiry: %s)\n",
			l.PartitionID, l.ExpiresAt.Format(timeFormat))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(renewCmd)
}
