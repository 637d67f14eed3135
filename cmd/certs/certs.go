// Package certs implements the certs command, which performs a handshake
// and prints the server certificate chain captured in the certificate
// buffer.
package certs

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"dominicbreuker/sslkit/cmd/shared"
	"dominicbreuker/sslkit/pkg/client"
	"dominicbreuker/sslkit/pkg/config"
	"dominicbreuker/sslkit/pkg/log"
	"dominicbreuker/sslkit/pkg/ssl"
)

const categoryCerts = "certs"

// PEMFlag is the name of the flag to print PEM blocks instead of a summary.
const PEMFlag = "pem"

// LeafFlag is the name of the flag to request the leaf certificate only.
const LeafFlag = "leaf"

// GetCommand returns the CLI command printing a server's certificates.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "certs",
		Usage:       "Print the certificate chain of a TLS server",
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

			// Piped output defaults to PEM so it can be fed to other tools.
			pemOut := cmd.Bool(PEMFlag) || !term.IsTerminal(int(os.Stdout.Fd()))

			deps := &config.Dependencies{Logger: log.NewLogger(libCfg.Verbose)}
			return Run(ctx, libCfg, cfg, deps, !cmd.Bool(LeafFlag), pemOut)
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:     PEMFlag,
			Usage:    "Print PEM blocks (default when stdout is not a terminal)",
			Category: categoryCerts,
			Value:    false,
			Required: false,
		},
		&cli.BoolFlag{
			Name:     LeafFlag,
			Usage:    "Request only the leaf certificate",
			Category: categoryCerts,
			Value:    false,
			Required: false,
		},
	}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetClientFlags()...)

	return flags
}

// Run connects, fetches the certificates and prints them to stdout.
func Run(ctx context.Context, libCfg *config.Library, cfg *config.Client, deps *config.Dependencies, chain, pemOut bool) error {
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

	c.Chain = chain
	if !chain {
		c.CertBufferSize = 4096
	}
	if err := c.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	certs, err := c.ServerCertificates()
	if err != nil {
		return err
	}

	out := config.GetStdoutFunc(deps)()
	if pemOut {
		return writePEM(out, certs)
	}
	return writeSummary(out, certs)
}

func writePEM(w io.Writer, certs [][]byte) error {
	for _, der := range certs {
		if err := pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
			return fmt.Errorf("pem.Encode(): %w", err)
		}
	}
	return nil
}

var heading = color.New(color.Bold).FprintfFunc()

func writeSummary(w io.Writer, certs [][]byte) error {
	for i, der := range certs {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("certificate %d: x509.ParseCertificate(): %w", i, err)
		}

		sum := sha256.Sum256(der)
		heading(w, "[%d] %s\n", i, cert.Subject)
		fmt.Fprintf(w, "    issuer:      %s\n", cert.Issuer)
		fmt.Fprintf(w, "    valid:       %s - %s\n", cert.NotBefore.UTC().Format(time.RFC3339), cert.NotAfter.UTC().Format(time.RFC3339))
		if names := altNames(cert); len(names) > 0 {
			fmt.Fprintf(w, "    names:       %s\n", strings.Join(names, ", "))
		}
		if cert.IsCA {
			fmt.Fprintf(w, "    ca:          true\n")
		}
		fmt.Fprintf(w, "    sha256:      %s\n", hex.EncodeToString(sum[:]))
	}
	return nil
}

func altNames(cert *x509.Certificate) []string {
	names := append([]string{}, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		names = append(names, ip.String())
	}
	return names
}
