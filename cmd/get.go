package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getJSON bool

var getCmd = &cobra.Command{
	Use:   "get <partition>",
	Short: "Show the persisted lease of a partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := eng.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if getJSON {
			return printJSON(l)
		}
		fmt.Println(l)
		return nil
	},
}

func init() {
	getCmd.Flags().BoolVar(&getJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(getCmd)
}
