package main

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io/fs"

	"github.com/ccdwallet/multisig-go/pkg/config"
	"github.com/ccdwallet/multisig-go/pkg/keystore"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
)

func keysCommand() *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "Manage local signing keys",
		Subcommands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Generate a key and add it to the keystore",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "label", Usage: "Label of the new key", Required: true},
				},
				Action: keysGenerateCommand,
			},
			{
				Name:   "list",
				Usage:  "List the keys in the keystore",
				Action: keysListCommand,
			},
		},
	}
}

func openKeyStore(c *cli.Context, create bool) (*keystore.KeyStore, string, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, "", err
	}
	passphrase := c.String("passphrase")
	if passphrase == "" {
		return nil, "", fmt.Errorf("a keystore passphrase is required (--passphrase or %s)", config.EnvKeystorePassphrase)
	}
	ks, err := keystore.Load(cfg.Keystore.Path, passphrase)
	if err != nil {
		if create && errors.Is(err, fs.ErrNotExist) {
			return keystore.NewKeyStore(), cfg.Keystore.Path, nil
		}
		return nil, "", err
	}
	return ks, cfg.Keystore.Path, nil
}

func keysGenerateCommand(c *cli.Context) error {
	ks, path, err := openKeyStore(c, true)
	if err != nil {
		return err
	}
	pub, err := ks.Generate(c.String("label"))
	if err != nil {
		return err
	}
	if err := ks.Save(path, c.String("passphrase")); err != nil {
		return err
	}
	fmt.Printf("✅ Key %q added to %s\n", c.String("label"), path)
	fmt.Printf("Public key: %s\n", hexutil.Encode(pub))
	return nil
}

func keysListCommand(c *cli.Context) error {
	ks, _, err := openKeyStore(c, false)
	if err != nil {
		return err
	}
	for _, label := range ks.Labels() {
		priv, err := ks.Get(label)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", label, hexutil.Encode(priv.Public().(ed25519.PublicKey)))
	}
	return nil
}
