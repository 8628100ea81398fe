// Package main provides the mbcored Modbus server daemon.
package main

import (
	"fmt"
	"os"
)

var version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
