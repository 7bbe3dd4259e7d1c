package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/planboard/chatcore/internal/history"
	"github.com/planboard/chatcore/internal/transcript"
)

var (
	historyAll  bool
	historyJSON bool
)

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Print the reconstructed transcript of a session",
	Long: `Fetch the history of a session and print the reconstructed transcript
without connecting live. By default only the most recent page is shown;
--all pages back to the beginning.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "Load the complete history")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print messages as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	engine := transcript.New()
	coord := history.New(history.Options{
		Backend:  newClient(cfg),
		Engine:   engine,
		PageSize: cfg.History.PageSize,
	})
	if err := coord.Attach(ctx, args[0]); err != nil {
		return err
	}
	st := coord.State()
	if st.TotalCount == 0 && engine.Len() == 0 {
		return fmt.Errorf("no history for session %s", args[0])
	}
	if historyAll {
		for coord.State().HasOlder {
			if !coord.LoadOlder(ctx) {
				return fmt.Errorf("failed to load history before offset %d", coord.State().Offset)
			}
		}
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(engine.Messages())
	}
	newPrinter(os.Stdout).all(engine.Messages())
	st = coord.State()
	if st.HasOlder {
		fmt.Fprintf(os.Stderr, "-- %d earlier events not shown (use --all)\n", st.Offset)
	}
	return nil
}
