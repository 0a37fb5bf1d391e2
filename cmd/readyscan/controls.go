package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/hakim/readyscan/internal/controls"
	"github.com/spf13/cobra"
)

var controlsCmd = &cobra.Command{
	Use:   "controls",
	Short: "List the compliance control catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded. Run 'readyscan init' first to create config")
		}
		catalog, err := controls.NewCatalog(cfg.Controls)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tName\tOwner\tDescription")
		fmt.Fprintln(w, "--\t----\t-----\t-----------")
		for _, c := range catalog.Controls() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Owner, c.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(controlsCmd)
}
