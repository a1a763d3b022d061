package main

import (
	"fmt"
	"runtime"

	"github.com/aretw0/arbor"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of arbor",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("arbor version %s (%s)\n", arbor.Version, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
