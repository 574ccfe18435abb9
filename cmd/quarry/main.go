package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "quarry"}

	root.AddCommand(runCMD(), serveCMD(), migrateCMD())
	_ = root.Execute()
}
