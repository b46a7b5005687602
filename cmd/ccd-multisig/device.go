package main

import (
	"fmt"

	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
)

func deviceCommand() *cli.Command {
	return &cli.Command{
		Name:  "device",
		Usage: "Query the hardware device",
		Subcommands: []*cli.Command{
			{
				Name:   "version",
				Usage:  "Show the app version on the device",
				Action: deviceVersionCommand,
			},
			{
				Name:  "pubkey",
				Usage: "Show the public key at a derivation path",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Usage: "Derivation path, e.g. m/44'/919'/0'/0'/0'/0'", Required: true},
				},
				Action: devicePubkeyCommand,
			},
		},
	}
}

func deviceVersionCommand(c *cli.Context) error {
	rt, err := newRuntime(c, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	status := rt.wallet.DeviceStatus()
	fmt.Printf("App version: %s\n", status.Version)
	fmt.Printf("Update instructions supported: %v (requires %s)\n", status.CanSignUpdates, ledger.MinUpdateVersion)
	return nil
}

func devicePubkeyCommand(c *cli.Context) error {
	path, err := ledger.ParsePath(c.String("path"))
	if err != nil {
		return err
	}
	rt, err := newRuntime(c, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	key, err := rt.session.GetPublicKey(c.Context, path)
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}
	fmt.Printf("%s %s\n", path, hexutil.Encode(key))
	return nil
}
