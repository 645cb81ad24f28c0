package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Kashuab/leasekeeper/internal/engine"
)

const timeFormat = "2006-01-02 15:04:05"

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the lease of every configured partition",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, err := eng.Status(cmd.Context())
		if err != nil {
			return err
		}

		if statusJSON {
			return printJSON(statuses)
		}

		return printStatusTable(statuses)
	},
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printStatusTable(statuses []engine.PartitionStatus) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARTITION\tSTATE\tOWNER\tEPOCH\tEXPIRES")

	for _, s := range statuses {
		owner := "-"
		epoch := "-"
		expires := "-"

		if s.Lease != nil {
			epoch = strconv.FormatInt(s.Lease.Epoch, 10)
			if s.Lease.IsOwned() {
				owner = s.Lease.Owner
			}
			if !s.Lease.ExpiresAt.IsZero() {
				expires = s.Lease.ExpiresAt.Format(timeFormat)
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.PartitionID, s.State, owner, epoch, expires)
	}

	return w.Flush()
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statusCmd)
}
