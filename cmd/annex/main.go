package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "annex",
	Short: "Annex directory namespace migrator",
	Long:  "Annex moves user and team records between the standalone namespace and organization namespaces of a multi-tenant directory, maintains the vanity-URL redirects those moves require, and can reverse a migration.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/annex.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
