// Package main is the single-binary entrypoint for MediaGate, the
// entitlement and verification engine behind the media bot.
package main

import "github.com/mediagate-bot/mediagate/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
