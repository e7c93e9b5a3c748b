package main

import (
	"context"
	"errors"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v3"

	"github.com/aklo360/cc-sub001/internal/crypto"
)

func keyCommand() *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "manage encrypted custody key files",
		Commands: []*cli.Command{
			{
				Name:  "encrypt",
				Usage: "encrypt a hex private key into a key file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Usage: "hex private key", Required: true, Sources: cli.EnvVars("CCFLIP_PRIVATE_KEY")},
					&cli.StringFlag{Name: "out", Usage: "key file to write", Required: true},
					passwordFlag(),
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					return writeKey(cmd.String("key"), cmd.String("out"), cmd.String("password"))
				},
			},
			{
				Name:  "generate",
				Usage: "generate a new key and write it encrypted",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Usage: "key file to write", Required: true},
					passwordFlag(),
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					keyHex, err := crypto.GenerateKey()
					if err != nil {
						return err
					}
					return writeKey(keyHex, cmd.String("out"), cmd.String("password"))
				},
			},
			{
				Name:      "address",
				Usage:     "print the address a key file controls",
				ArgsUsage: "<key-file>",
				Action: func(_ context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return errors.New("expected one key file")
					}
					addr, err := crypto.KeyFileAddress(cmd.Args().First())
					if err != nil {
						return err
					}
					pterm.Println(addr)
					return nil
				},
			},
		},
	}
}

func writeKey(keyHex, out, password string) error {
	if password == "" {
		return errors.New("a password is required (--password or CCFLIP_CHAIN_KEY_PASSWORD)")
	}
	addr, err := crypto.WriteKeyFile(out, keyHex, password)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("wrote %s for %s", out, addr)
	return nil
}
