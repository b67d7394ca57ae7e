package commands

import (
	"fmt"

	"chatarchive/services/archive"

	"github.com/spf13/cobra"
)

var clearConfirm *bool

func init() {
	clearConfirm = clearCmd.Flags().Bool("yes", false, "Confirm that every archived record should be deleted.")
	rootCmd.AddCommand(clearCmd)
}

var clearCmd = &cobra.Command{
	Use:   "clear --yes",
	Short: "Deletes everything in the archive.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !*clearConfirm {
			return fmt.Errorf("refusing to clear the archive without --yes")
		}
		store, err := archive.Default()
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		err = store.Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println("Cleared the archive.")
		return nil
	},
}
