package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release the lease in the lease file",
	Long: `Release the lease in the lease file so another host can acquire it at once.
Fails if the lease has expired or another host has taken it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := eng.Release(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Released partition %q\n", l.PartitionID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(releaseCmd)
}
