package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Mark jobs interrupted by a crash or restart as failed",
	Long: `Find jobs stored as created or running that no process owns and mark them
failed with the reason "interrupted by restart". The serve command does this
automatically at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.orch.Recover(cmd.Context())
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Println("[+] No interrupted jobs found")
			return nil
		}
		fmt.Printf("[+] Marked %d interrupted job(s) as failed\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}
