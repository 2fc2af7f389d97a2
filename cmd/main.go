package main

import "github.com/spf13/cobra"

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridge-listener",
		Short: "Cross-chain bridge event listener",
		Run:   RootAction,
	}
	rootCmd.PersistentFlags().String("config", "./sample-config.yml", "config file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug level logging")

	rootCmd.AddCommand(StatusCmd())
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
