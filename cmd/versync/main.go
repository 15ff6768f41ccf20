// Package main provides the versync command line client.
package main

import (
	"fmt"
	"os"

	"asisaid.cn/versync/cmd/versync/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
