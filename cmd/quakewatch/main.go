// Package main provides the entry point for the quakewatch CLI.
package main

import (
	"github.com/quakewatch/quakewatch-go/internal/cli"
)

func main() {
	cli.Execute()
}
