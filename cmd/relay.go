package cmd

import (
	"github.com/spf13/cobra"

	"github.com/phudinh153/camcast/internal/config"
	"github.com/phudinh153/camcast/internal/relay"
)

var flagRelayAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a signaling relay",
	Long: `Run the websocket relay that brokers and viewers signal through. Clients
join rooms and every room-scoped event is forwarded to the other members.

Examples:
  camcast relay
  camcast relay --addr 127.0.0.1:9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, logFile, err := setupLogging(config.Log{
			Level:  flagLogLevel,
			Format: flagLogFormat,
			File:   flagLogFile,
		}, false)
		if err != nil {
			return err
		}
		if logFile != nil {
			defer logFile.Close()
		}
		return relay.ListenAndServe(cmd.Context(), flagRelayAddr, logger.With("component", "relay"))
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVarP(&flagRelayAddr, "addr", "a", ":8080", "Listen address")
}
