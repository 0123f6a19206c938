package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	relay "github.com/offlinekit/relay"
)

// NewClearCommand creates the clear command: delete every persisted outbox
// transaction. Queued work is lost, so the command asks first unless --yes.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all persisted outbox transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Load(rootOpts.viper)
			if err != nil {
				return err
			}
			if !yes && !confirm(cmd) {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}

			storage, storageCloser, err := buildStorage(cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer storageCloser.Close()

			if err := relay.WipeOutbox(cmd.Context(), storage); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "outbox cleared")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func confirm(cmd *cobra.Command) bool {
	fmt.Fprint(cmd.OutOrStdout(), "delete all queued transactions? [y/N] ")
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
