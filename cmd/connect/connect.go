// Package connect implements the connect command, which opens a TLS
// connection through the connection manager and pipes it to stdin and
// stdout.
package connect

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"dominicbreuker/sslkit/cmd/shared"
	"dominicbreuker/sslkit/pkg/client"
	"dominicbreuker/sslkit/pkg/config"
	"dominicbreuker/sslkit/pkg/log"
	"dominicbreuker/sslkit/pkg/pipeio"
	"dominicbreuker/sslkit/pkg/ssl"
)

// GetCommand returns the CLI command for connect mode.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "connect",
		Usage:       "Connect to a TLS server and pipe the connection to stdin/stdout",
		Description: shared.GetBaseDescription(),
		ArgsUsage:   shared.GetArgsUsage(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 1 {
				return fmt.Errorf("must provide exactly one argument, got %d (%s)", args.Len(), strings.Join(args.Slice(), ", "))
			}

			libCfg, err := shared.LoadLibraryConfig(cmd)
			if err != nil {
				return fmt.Errorf("loading config: %s", err)
			}
			cfg, err := shared.GetClientConfig(cmd, args.Get(0))
			if err != nil {
				return err
			}
			if err := shared.Validate(libCfg, cfg); err != nil {
				return err
			}

			deps := &config.Dependencies{Logger: log.NewLogger(libCfg.Verbose)}
			return Run(ctx, libCfg, cfg, deps)
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetClientFlags()...)

	return flags
}

// Run connects and pipes the connection to the stdin and stdout of deps
// until either side closes or ctx is cancelled.
func Run(ctx context.Context, libCfg *config.Library, cfg *config.Client, deps *config.Dependencies) error {
	logger := config.GetLogger(deps)

	lib := ssl.NewLibrary(libCfg, deps)
	if err := lib.Initialize(); err != nil {
		return fmt.Errorf("Initialize(): %w", err)
	}
	defer lib.Finalize()

	c, err := client.New(ctx, lib, cfg, deps)
	if err != nil {
		return err
	}
	defer c.Destroy()

	if err := c.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	stdio := pipeio.NewStdio(config.GetStdinFunc(deps)(), config.GetStdoutFunc(deps)())
	pipeio.Pipe(ctx, c.Stream(), stdio, func(err error) {
		logger.ErrorMsg("%s", err)
	})
	return nil
}
