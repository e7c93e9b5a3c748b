package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v3"

	"github.com/aklo360/cc-sub001/internal/app"
	"github.com/aklo360/cc-sub001/internal/crypto"
	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/service"
)

func walletCommand() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "manage custody wallet records",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "register the wallet for a role (cold, hot or burn)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "role", Required: true},
					&cli.StringFlag{Name: "address", Usage: "defaults to the key file's address"},
					&cli.StringFlag{Name: "key-ref", Usage: "encrypted key file path"},
					passwordFlag(),
				},
				Action: createWallet,
			},
			{
				Name:   "list",
				Usage:  "show registered wallets and their last known balances",
				Action: listWallets,
			},
		},
	}
}

func createWallet(ctx context.Context, cmd *cli.Command) error {
	role := domain.WalletRole(cmd.String("role"))
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	address, keyRef := cmd.String("address"), cmd.String("key-ref")

	if keyRef != "" {
		if address == "" {
			a, err := crypto.KeyFileAddress(keyRef)
			if err != nil {
				return err
			}
			address = a
		}
		// Prove the key file opens and controls the address before storing it.
		if pw := cmd.String("password"); pw != "" {
			ref := domain.WalletRef{Role: role, Address: address, KeyRef: keyRef}
			if _, err := crypto.NewKeyring(pw).Key(ref); err != nil {
				return err
			}
		} else {
			pterm.Warning.Println("no password given; key file not checked")
		}
	}
	if address == "" {
		return fmt.Errorf("--address or --key-ref is required")
	}

	cfg, err := loadConfig(cmd.Root())
	if err != nil {
		return err
	}
	stores, _, closeStores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	treasury := service.NewTreasuryService(stores.Wallets, stores.Commitments, stores.Sweeps, nil, nil, service.TreasuryConfig{}, quietLogger())
	w, err := treasury.CreateWallet(ctx, role, address, keyRef)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s wallet registered: %s", w.Role, w.Address)
	return nil
}

func listWallets(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.Root())
	if err != nil {
		return err
	}
	stores, _, closeStores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	wallets, err := stores.Wallets.List(ctx)
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		pterm.Info.Println("no wallets registered")
		return nil
	}

	data := pterm.TableData{{"Role", "Address", "Balance", "As of"}}
	for _, w := range wallets {
		asOf := "-"
		if !w.BalanceAt.IsZero() {
			asOf = w.BalanceAt.Format(time.RFC3339)
		}
		data = append(data, []string{string(w.Role), w.Address, strconv.FormatInt(w.Balance, 10), asOf})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
