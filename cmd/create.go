package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <partition>...",
	Short: "Create unowned leases for partitions that have none",
	Long: `Create an unowned lease for each partition that has none. With no
arguments, every partition in the config is created.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := args
		if len(ids) == 0 {
			ids = eng.Cfg.Partitions
		}
		if len(ids) == 0 {
			return fmt.Errorf("no partitions given and none configured")
		}

		for _, id := range ids {
			l, err := eng.Create(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Partition %q: %s\n", id, l)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
}
