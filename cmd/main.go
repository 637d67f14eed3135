package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"dominicbreuker/sslkit/cmd/certs"
	"dominicbreuker/sslkit/cmd/connect"
	"dominicbreuker/sslkit/cmd/serve"
	"dominicbreuker/sslkit/cmd/shared"
	"dominicbreuker/sslkit/cmd/version"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shared.SetupSignalHandling(cancel, shared.ShutdownGrace)

	if err := getCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[!] Error: %s\n", err)
		os.Exit(1)
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:  "sslkit",
		Usage: "TLS client connections with a shared session cache",
		Commands: []*cli.Command{
			connect.GetCommand(),
			certs.GetCommand(),
			serve.GetCommand(),
			version.GetCommand(),
		},
	}
}
