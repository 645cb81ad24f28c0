package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the lease store",
}

var storeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the lease store if it does not exist",
	Long: `Create the lease store if it does not exist. Existing leases are kept, but the
store's lease duration is set to the configured one either way.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := eng.CreateStore(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Lease store ready (lease duration: %ds)\n", eng.Cfg.Lease.Duration)
		return nil
	},
}

var storeDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the lease store and every lease in it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := eng.DeleteStore(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Lease store deleted")
		return nil
	},
}

var storeExistsCmd = &cobra.Command{
	Use:   "exists",
	Short: "Report whether the lease store exists",
	Long:  `Prints true or false. Exits non-zero when the store does not exist.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := eng.StoreExists(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(ok)
		if !ok {
			return fmt.Errorf("lease store does not exist")
		}
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeCreateCmd, storeDeleteCmd, storeExistsCmd)
	rootCmd.AddCommand(storeCmd)
}
