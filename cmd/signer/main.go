package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "signer",
		Short: "JSON-RPC proxy that signs transactions for managed accounts",
		Long: `signer sits between Ethereum clients and a node. eth_sendTransaction and
eth_signTransaction for managed accounts are completed, signed with keys held
in a keystore directory or a Vault transit engine, and submitted in nonce
order. Every other request is forwarded to the node unchanged.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		os.Exit(1)
	}
}
