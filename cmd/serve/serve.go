// Package serve implements the serve command, a local TLS echo server with
// generated certificates to try the client commands against.
package serve

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"dominicbreuker/sslkit/cmd/shared"
	"dominicbreuker/sslkit/pkg/config"
	"dominicbreuker/sslkit/pkg/log"
	"dominicbreuker/sslkit/pkg/server"
)

const categoryServe = "serve"

// SeedFlag is the name of the flag to make the generated CA reproducible.
const SeedFlag = "seed"

// CAOutFlag is the name of the flag to write the CA certificate to a file.
const CAOutFlag = "ca-out"

// TLS12Flag is the name of the flag to cap the protocol at TLS 1.2.
const TLS12Flag = "tls12"

// MaxClientsFlag is the name of the flag to limit concurrent clients.
const MaxClientsFlag = "max-clients"

// GetCommand returns the CLI command for serve mode.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a TLS echo server with generated certificates",
		Description: strings.Join([]string{
			"Specify the address like this: 127.0.0.1:8443 or :8443 for all interfaces.",
			"The certificate is valid for localhost, 127.0.0.1 and the given host.",
		}, "\n"),
		ArgsUsage: "[host]:port",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 1 {
				return fmt.Errorf("must provide exactly one argument, got %d (%s)", args.Len(), strings.Join(args.Slice(), ", "))
			}

			host, port, err := shared.ParseTarget(args.Get(0), false)
			if err != nil {
				return err
			}

			cfg := &config.Server{
				Host:       host,
				Port:       port,
				Seed:       cmd.String(SeedFlag),
				CAOut:      cmd.String(CAOutFlag),
				TLS12:      cmd.Bool(TLS12Flag),
				MaxClients: int(cmd.Int(MaxClientsFlag)),
				WireLog:    cmd.String(shared.LogFileFlag),
			}
			if err := shared.Validate(cfg); err != nil {
				return err
			}

			deps := &config.Dependencies{Logger: log.NewLogger(cmd.Bool(shared.VerboseFlag))}
			srv, err := server.New(ctx, cfg, deps)
			if err != nil {
				return err
			}
			return srv.Serve()
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     SeedFlag,
			Usage:    "Seed for the generated CA, leave empty for a random one",
			Category: categoryServe,
			Value:    "",
			Required: false,
		},
		&cli.StringFlag{
			Name:     CAOutFlag,
			Usage:    "Write the CA certificate (PEM) to this file, for use with --ca",
			Category: categoryServe,
			Value:    "",
			Required: false,
		},
		&cli.BoolFlag{
			Name:     TLS12Flag,
			Usage:    "Cap the protocol at TLS 1.2",
			Category: categoryServe,
			Value:    false,
			Required: false,
		},
		&cli.IntFlag{
			Name:     MaxClientsFlag,
			Usage:    "Maximum number of concurrent clients",
			Category: categoryServe,
			Value:    config.DefaultMaxClients,
			Required: false,
		},
	}

	flags = append(flags, shared.GetCommonFlags()...)

	return flags
}
