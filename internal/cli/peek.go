package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	relay "github.com/offlinekit/relay"
)

// NewPeekCommand creates the peek command: print the persisted outbox
// without executing anything.
func NewPeekCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "peek",
		Short: "List persisted outbox transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Load(rootOpts.viper)
			if err != nil {
				return err
			}
			return peekOutbox(cmd, cfg, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of a table")
	return cmd
}

func peekOutbox(cmd *cobra.Command, cfg DaemonConfig, asJSON bool) error {
	ctx := cmd.Context()
	storage, storageCloser, err := buildStorage(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer storageCloser.Close()

	txs, err := relay.ReadOutbox(ctx, storage, collectionRegistry(cfg.Collections), nil)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(txs)
	}

	if len(txs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "outbox is empty")
		return nil
	}
	for _, tx := range txs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  fn=%s  retries=%d  keys=%s  created=%s\n",
			tx.ID, tx.MutationFnName, tx.RetryCount,
			strings.Join(tx.Keys, ","), tx.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"))
	}
	return nil
}
