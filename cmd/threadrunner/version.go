package main

import (
	"fmt"

	taskrunner "github.com/Swind/go-thread-task-runner"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of threadrunner",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "threadrunner version %s\n", taskrunner.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
