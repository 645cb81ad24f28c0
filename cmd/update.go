package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	updateEpoch int64
	updateToken string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Record a new epoch or token on the lease in the lease file",
	Long: `Renew the lease in the lease file, then store the given epoch and/or token
on it. Flags that are not set keep their current value.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			epoch *int64
			token *string
		)
		if cmd.Flags().Changed("epoch") {
			epoch = &updateEpoch
		}
		if cmd.Flags().Changed("token") {
			token = &updateToken
		}
		if epoch == nil && token == nil {
			return fmt.Errorf("nothing to update, set --epoch and/or --token")
		}

		l, err := eng.Update(cmd.Context(), epoch, token)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Updated partition %q (epoch: %d, token: %q, expires: %s)\n",
			l.PartitionID, l.Epoch, l.Token, l.ExpiresAt.Format(timeFormat))
		return nil
	},
}

func init() {
	updateCmd.Flags().Int64Var(&updateEpoch, "epoch", 0, "new epoch")
	updateCmd.Flags().StringVar(&updateToken, "token", "", "new token")
	rootCmd.AddCommand(updateCmd)
}
