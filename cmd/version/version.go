// Package version implements the version command.
package version

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/urfave/cli/v3"
)

// Version is set at build time via ldflags.
var Version = "unknown"

// VerboseFlag is the name of the flag to also print the supported protocol versions.
const VerboseFlag = "verbose"

// GetCommand returns the CLI command printing the program version.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Program version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return Write(os.Stdout, cmd.Bool(VerboseFlag))
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    VerboseFlag,
				Aliases: []string{"v"},
				Usage:   "Also print the Go runtime and supported TLS versions",
			},
		},
	}
}

// Write prints the version, and with verbose the runtime and the TLS
// versions a Context may be restricted to.
func Write(w io.Writer, verbose bool) error {
	if _, err := fmt.Fprintln(w, Version); err != nil {
		return err
	}
	if !verbose {
		return nil
	}

	fmt.Fprintf(w, "go:  %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	_, err := fmt.Fprintf(w, "tls: %s - %s\n", tls.VersionName(tls.VersionTLS10), tls.VersionName(tls.VersionTLS13))
	return err
}
