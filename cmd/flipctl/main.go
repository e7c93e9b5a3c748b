// Command flipctl is the operator tool for the wager service: it encrypts
// custody keys, registers wallet roles, reads the audit log and
// independently verifies outcomes.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v3"

	"github.com/aklo360/cc-sub001/internal/config"
)

func main() {
	cmd := &cli.Command{
		Name:  "flipctl",
		Usage: "operate and audit the coin flip service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.toml",
				Usage:   "path to configuration file",
				Sources: cli.EnvVars("CCFLIP_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			keyCommand(),
			walletCommand(),
			verifyCommand(),
			archiveCommand(),
			auditCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads the config named by the root --config flag. A missing
// default file falls back to defaults plus environment overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	if _, err := os.Stat(path); err != nil && !cmd.IsSet("config") {
		path = ""
	}
	return config.Load(path)
}

// quietLogger keeps service logging out of the terminal output.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func passwordFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "password",
		Usage:   "key file password",
		Sources: cli.EnvVars("CCFLIP_CHAIN_KEY_PASSWORD"),
	}
}
