package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use: "camforge-worker",
}

func init() {
	rootCmd.AddCommand(runCmd)
}
