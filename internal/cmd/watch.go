package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Stream a chat session read-only",
	Long: `Print the recent history of a session and stream the agent's output
until interrupted. Permission requests for remembered tools are still
approved automatically.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addSessionFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	r, err := newRig(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer r.shutdown.Shutdown("exit")

	if _, err := r.attach(r.shutdown.Context(), args); err != nil {
		return err
	}
	<-r.shutdown.Context().Done()
	return nil
}
