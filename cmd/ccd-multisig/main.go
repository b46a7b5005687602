package main

import (
	"log"
	"os"

	"github.com/ccdwallet/multisig-go/pkg/config"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "ccd-multisig",
		Usage: "Multi-signature proposals signed with hardware devices",
		Description: `Builds canonical transactions and governance update instructions, collects
signatures from hardware devices and local keys until the threshold is met,
and tracks the resulting proposal through submission to finalization.

Proposals are exchanged between co-signers as JSON files:
  ccd-multisig proposal export --id <id> --output proposal.json
  ccd-multisig proposal import --input proposal.json`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{config.EnvConfigFile},
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Network: mainnet, testnet or devnet",
				Value:   string(config.Network_Mainnet),
				EnvVars: []string{config.EnvNetwork},
			},
			&cli.StringFlag{
				Name:    "node-url",
				Usage:   "Node API base URL (defaults per network)",
				EnvVars: []string{config.EnvNodeURL},
			},
			&cli.StringFlag{
				Name:    "device-transport",
				Usage:   "Device transport: hid, tcp, emulator or none",
				EnvVars: []string{config.EnvDeviceTransport},
			},
			&cli.StringFlag{
				Name:    "device-address",
				Usage:   "Address of a TCP device emulator (host:port)",
				EnvVars: []string{config.EnvDeviceAddress},
			},
			&cli.StringFlag{
				Name:    "persistence",
				Usage:   "Proposal store: memory, badger or redis",
				EnvVars: []string{config.EnvPersistenceType},
			},
			&cli.StringFlag{
				Name:    "badger-dir",
				Usage:   "Directory of the badger proposal store",
				EnvVars: []string{config.EnvBadgerDir},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port) for the shared proposal store",
				EnvVars: []string{config.EnvRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvRedisPassword},
			},
			&cli.StringFlag{
				Name:    "keystore",
				Usage:   "Path of the local key file",
				EnvVars: []string{config.EnvKeystorePath},
			},
			&cli.StringFlag{
				Name:    "passphrase",
				Usage:   "Passphrase of the local key file",
				EnvVars: []string{config.EnvKeystorePassphrase},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				EnvVars: []string{config.EnvDebug},
			},
		},
		Commands: []*cli.Command{
			proposalCommand(),
			deviceCommand(),
			keysCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
