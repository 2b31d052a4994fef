package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{Use: "researchd", Short: "Adaptive web research engine"}

	root.AddCommand(serveCMD(), researchCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
