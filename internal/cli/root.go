// Package cli implements the relayd command tree.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool

	viper *viper.Viper
}

// NewRootCommand creates the root command for relayd.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{viper: NewViper()}

	cmd := &cobra.Command{
		Use:   "relayd",
		Short: "relayd - durable offline mutation outbox daemon",
		Long: `relayd queues mutations durably, forwards them to a remote endpoint
with idempotency keys, and retries with bounded exponential backoff.
Only one relayd instance in a coordination group drains the queue at a time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.ConfigFile != "" {
				opts.viper.SetConfigFile(opts.ConfigFile)
				if err := opts.viper.ReadInConfig(); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to config file (yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewPeekCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))

	return cmd
}

// Execute runs the relayd command tree.
func Execute() error {
	return NewRootCommand().Execute()
}
