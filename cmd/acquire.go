package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var acquireCmd = &cobra.Command{
	Use:   "acquire <partition>",
	Short: "Acquire the lease on a partition",
	Long: `Acquire the lease on a partition for this host and save it to the lease file.
A lease held by another host is taken over even if it has not expired.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := eng.Acquire(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Acquired partition %q as %s (expires: %s)\n",
			l.PartitionID, l.Owner, l.ExpiresAt.Format(timeFormat))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(acquireCmd)
}
