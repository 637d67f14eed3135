// Package shared provides common CLI flag definitions and utility functions
// used across sslkit's command-line interface.
package shared

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"dominicbreuker/sslkit/pkg/config"
	"dominicbreuker/sslkit/pkg/log"
)

const categoryCommon = "common"

// VerboseFlag is the name of the flag to enable verbose logging.
const VerboseFlag = "verbose"

// ConfigFlag is the name of the flag to specify a YAML library config file.
const ConfigFlag = "config"

// LogFileFlag is the name of the flag to specify a wire log file.
const LogFileFlag = "log"

// GetBaseDescription returns the description of the target argument.
func GetBaseDescription() string {
	return strings.Join([]string{
		"Specify the target like this: example.com:443 or [::1]:8443",
		"Library settings can be overridden with " + config.DefaultEnvPrefix + "* environment variables.",
	}, "\n")
}

// GetArgsUsage returns the arguments usage string for CLI commands.
func GetArgsUsage() string {
	return "host:port"
}

// GetCommonFlags returns the flags shared by all commands.
func GetCommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:     VerboseFlag,
			Aliases:  []string{"v"},
			Usage:    "Verbose logging",
			Category: categoryCommon,
			Value:    false,
			Required: false,
		},
		&cli.StringFlag{
			Name:     ConfigFlag,
			Aliases:  []string{"c"},
			Usage:    "YAML file with library settings",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
		&cli.StringFlag{
			Name:     LogFileFlag,
			Aliases:  []string{"l"},
			Usage:    "Write a hex dump of all TLS records to this file",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
	}
}

const categoryClient = "client"

// HostnameFlag is the name of the flag to override the SNI and verification name.
const HostnameFlag = "hostname"

// VerifyFlag is the name of the flag to select certificate checks.
const VerifyFlag = "verify"

// CAFlag is the name of the flag to specify extra trusted roots.
const CAFlag = "ca"

// InsecureFlag is the name of the flag to disable certificate checks.
const InsecureFlag = "insecure"

// NonBlockingFlag is the name of the flag to use non-blocking I/O.
const NonBlockingFlag = "nonblocking"

// CacheFlag is the name of the flag to select the session cache mode.
const CacheFlag = "cache"

// TimeoutFlag is the name of the flag to bound blocking operations.
const TimeoutFlag = "timeout"

// GetClientFlags returns the flags of commands connecting to a server.
func GetClientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     HostnameFlag,
			Aliases:  []string{"n"},
			Usage:    "Server name for SNI and verification, defaults to the target host",
			Category: categoryClient,
			Value:    "",
			Required: false,
		},
		&cli.StringFlag{
			Name:     VerifyFlag,
			Usage:    "Comma separated certificate checks: ca, host, date, ev, all or none",
			Category: categoryClient,
			Value:    "ca,host,date",
			Required: false,
		},
		&cli.StringFlag{
			Name:     CAFlag,
			Usage:    "PEM file or directory with additional trusted CA certificates",
			Category: categoryClient,
			Value:    "",
			Required: false,
		},
		&cli.BoolFlag{
			Name:     InsecureFlag,
			Aliases:  []string{"k"},
			Usage:    "Skip all certificate checks",
			Category: categoryClient,
			Value:    false,
			Required: false,
		},
		&cli.BoolFlag{
			Name:     NonBlockingFlag,
			Usage:    "Drive the connection with non-blocking I/O and Poll",
			Category: categoryClient,
			Value:    false,
			Required: false,
		},
		&cli.StringFlag{
			Name:     CacheFlag,
			Usage:    "Session cache mode: id, ticket or none",
			Category: categoryClient,
			Value:    "id",
			Required: false,
		},
		&cli.DurationFlag{
			Name:     TimeoutFlag,
			Aliases:  []string{"t"},
			Usage:    "Bound for every blocking handshake, read and write (0 uses the library setting)",
			Category: categoryClient,
			Value:    0,
			Required: false,
		},
	}
}

// LoadLibraryConfig builds the library configuration from the config file,
// the environment and the common flags, in increasing priority.
func LoadLibraryConfig(cmd *cli.Command) (*config.Library, error) {
	cfg, err := config.Load(cmd.String(ConfigFlag), config.DefaultEnvPrefix)
	if err != nil {
		return nil, err
	}

	if cmd.Bool(VerboseFlag) {
		cfg.Verbose = true
	}
	if path := cmd.String(LogFileFlag); path != "" {
		cfg.WireLog = path
	}
	if cmd.IsSet(TimeoutFlag) {
		if d := cmd.Duration(TimeoutFlag); d > 0 {
			cfg.IoCeiling = d
		}
	}

	return cfg, nil
}

// GetClientConfig builds the client configuration for target from the
// client flags.
func GetClientConfig(cmd *cli.Command, target string) (*config.Client, error) {
	host, port, err := ParseTarget(target, true)
	if err != nil {
		return nil, err
	}

	return &config.Client{
		Host:        host,
		Port:        port,
		ServerName:  cmd.String(HostnameFlag),
		CAFile:      cmd.String(CAFlag),
		Verify:      cmd.String(VerifyFlag),
		Insecure:    cmd.Bool(InsecureFlag),
		NonBlocking: cmd.Bool(NonBlockingFlag),
		CacheMode:   cmd.String(CacheFlag),
		Timeout:     cmd.Duration(TimeoutFlag),
	}, nil
}

// Validate runs all validators and prints every problem found.
func Validate(cfgs ...config.ValidatableConfig) error {
	errors := config.Validate(cfgs...)
	if len(errors) == 0 {
		return nil
	}

	log.ErrorMsg("Argument validation errors:\n")
	for _, err := range errors {
		log.ErrorMsg(" - %s\n", err)
	}
	return fmt.Errorf("exiting")
}
