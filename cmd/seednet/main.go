// Package main is the single-binary entrypoint for seednet.
package main

import "github.com/seednet/seednet/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
