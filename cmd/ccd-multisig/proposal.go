package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/keystore"
	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/signer"
	"github.com/ccdwallet/multisig-go/pkg/signer/deviceSigner"
	"github.com/ccdwallet/multisig-go/pkg/signer/inMemorySigner"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
)

func proposalCommand() *cli.Command {
	idFlag := &cli.StringFlag{Name: "id", Usage: "Proposal ID", Required: true}
	slotsFlag := &cli.StringSliceFlag{
		Name:     "slot",
		Usage:    "Signer slot INDEX=PUBLICKEY[=LABEL], e.g. 0/1=0x3b6a...=alice (repeatable)",
		Required: true,
	}
	thresholdFlag := &cli.IntFlag{Name: "threshold", Usage: "Signatures required", Required: true}

	return &cli.Command{
		Name:  "proposal",
		Usage: "Create, sign, exchange and submit multi-signature proposals",
		Subcommands: []*cli.Command{
			{
				Name:  "create-transfer",
				Usage: "Open a proposal for a CCD transfer",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sender", Usage: "Sender account address", Required: true},
					&cli.StringFlag{Name: "to", Usage: "Receiver account address", Required: true},
					&cli.StringFlag{Name: "amount", Usage: "Amount in CCD, e.g. 12.5", Required: true},
					&cli.Uint64Flag{Name: "nonce", Usage: "Next account nonce of the sender", Required: true},
					&cli.Uint64Flag{Name: "energy", Usage: "Energy to spend", Value: 501},
					&cli.DurationFlag{Name: "expires-in", Usage: "Time until the transaction expires", Value: time.Hour},
					&cli.StringFlag{Name: "memo", Usage: "Optional memo (0x-prefixed hex)"},
					thresholdFlag,
					slotsFlag,
				},
				Action: createTransferCommand,
			},
			{
				Name:  "create-update",
				Usage: "Open a proposal for a chain update instruction",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "kind",
						Usage:    "election-difficulty, euro-per-energy, micro-ccd-per-euro, foundation-account, baker-stake-threshold or protocol",
						Required: true,
					},
					&cli.Uint64Flag{Name: "sequence", Usage: "Update sequence number", Required: true},
					&cli.DurationFlag{Name: "timeout-in", Usage: "Time until the instruction times out", Value: time.Hour},
					&cli.DurationFlag{Name: "effective-in", Usage: "Time until the update takes effect (0 = immediately)"},
					&cli.Uint64Flag{Name: "value", Usage: "Value for election-difficulty (parts per 100000)"},
					&cli.Uint64Flag{Name: "numerator", Usage: "Exchange rate numerator"},
					&cli.Uint64Flag{Name: "denominator", Usage: "Exchange rate denominator"},
					&cli.StringFlag{Name: "account", Usage: "Account address for foundation-account"},
					&cli.StringFlag{Name: "amount", Usage: "Amount in CCD for baker-stake-threshold"},
					&cli.StringFlag{Name: "message", Usage: "Protocol update message"},
					&cli.StringFlag{Name: "url", Usage: "Protocol specification URL"},
					&cli.StringFlag{Name: "spec-hash", Usage: "Protocol specification hash (hex)"},
					thresholdFlag,
					slotsFlag,
				},
				Action: createUpdateCommand,
			},
			{
				Name:  "sign",
				Usage: "Sign a slot with a hardware device or a local key",
				Flags: []cli.Flag{
					idFlag,
					&cli.StringFlag{Name: "slot", Usage: "Slot to sign, e.g. 0/1", Required: true},
					&cli.StringFlag{Name: "device-path", Usage: "Derivation path on the device, e.g. m/44'/919'/0'/0'/0'/1'"},
					&cli.StringFlag{Name: "key", Usage: "Label of a local key in the keystore"},
				},
				Action: signCommand,
			},
			{
				Name:   "show",
				Usage:  "Show a proposal, or all proposals without --id",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "id", Usage: "Proposal ID"}, &cli.StringSliceFlag{Name: "status", Usage: "Filter by status"}},
				Action: showCommand,
			},
			{
				Name:  "export",
				Usage: "Write a proposal file for co-signers",
				Flags: []cli.Flag{
					idFlag,
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file (default stdout)"},
				},
				Action: exportCommand,
			},
			{
				Name:  "import",
				Usage: "Read a proposal file, merging signatures into a known proposal",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Proposal file", Required: true},
				},
				Action: importCommand,
			},
			{
				Name:   "submit",
				Usage:  "Submit a proposal whose threshold is met",
				Flags:  []cli.Flag{idFlag},
				Action: submitCommand,
			},
			{
				Name:  "poll",
				Usage: "Query the node about a submitted proposal",
				Flags: []cli.Flag{
					idFlag,
					&cli.BoolFlag{Name: "watch", Usage: "Keep polling until the proposal is terminal"},
				},
				Action: pollCommand,
			},
			{
				Name:  "discard",
				Usage: "Close an open proposal",
				Flags: []cli.Flag{
					idFlag,
					&cli.StringFlag{Name: "reason", Usage: "Why the proposal is discarded"},
				},
				Action: discardCommand,
			},
		},
	}
}

func createTransferCommand(c *cli.Context) error {
	sender, err := types.AddressFromBase58(c.String("sender"))
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	to, err := types.AddressFromBase58(c.String("to"))
	if err != nil {
		return fmt.Errorf("invalid receiver: %w", err)
	}
	amount, err := types.ParseAmount(c.String("amount"))
	if err != nil {
		return err
	}
	slots, err := parseSlots(c.StringSlice("slot"))
	if err != nil {
		return err
	}

	var payload codec.AccountPayload = codec.SimpleTransfer{To: to, Amount: amount}
	if memo := c.String("memo"); memo != "" {
		raw, err := hexutil.Decode(memo)
		if err != nil {
			return fmt.Errorf("invalid memo: %w", err)
		}
		payload = codec.TransferWithMemo{To: to, Memo: raw, Amount: amount}
	}
	tx := &codec.AccountTransaction{
		Header: codec.AccountTransactionHeader{
			Sender: sender,
			Nonce:  types.Nonce(c.Uint64("nonce")),
			Energy: types.Energy(c.Uint64("energy")),
			Expiry: types.TimestampFromTime(time.Now().Add(c.Duration("expires-in"))),
		},
		Payload: payload,
	}
	return createProposal(c, tx, slots)
}

func createUpdateCommand(c *cli.Context) error {
	payload, err := updatePayload(c)
	if err != nil {
		return err
	}
	slots, err := parseSlots(c.StringSlice("slot"))
	if err != nil {
		return err
	}
	now := time.Now()
	header := codec.UpdateHeader{
		SequenceNumber: types.SequenceNumber(c.Uint64("sequence")),
		Timeout:        types.TimestampFromTime(now.Add(c.Duration("timeout-in"))),
	}
	if d := c.Duration("effective-in"); d > 0 {
		header.EffectiveTime = types.TimestampFromTime(now.Add(d))
	}
	return createProposal(c, &codec.UpdateInstruction{Header: header, Payload: payload}, slots)
}

func updatePayload(c *cli.Context) (codec.UpdatePayload, error) {
	switch kind := c.String("kind"); kind {
	case "election-difficulty":
		return codec.ElectionDifficultyUpdate{Difficulty: types.PartsPerHundredThousand(c.Uint64("value"))}, nil
	case "euro-per-energy":
		return codec.EuroPerEnergyUpdate{Rate: exchangeRate(c)}, nil
	case "micro-ccd-per-euro":
		return codec.MicroCCDPerEuroUpdate{Rate: exchangeRate(c)}, nil
	case "foundation-account":
		addr, err := types.AddressFromBase58(c.String("account"))
		if err != nil {
			return nil, fmt.Errorf("invalid account: %w", err)
		}
		return codec.FoundationAccountUpdate{Account: addr}, nil
	case "baker-stake-threshold":
		amount, err := types.ParseAmount(c.String("amount"))
		if err != nil {
			return nil, err
		}
		return codec.BakerStakeThresholdUpdate{Threshold: amount}, nil
	case "protocol":
		hash, err := types.HashFromHex(c.String("spec-hash"))
		if err != nil {
			return nil, fmt.Errorf("invalid specification hash: %w", err)
		}
		return codec.ProtocolUpdate{
			Message:           c.String("message"),
			SpecificationURL:  c.String("url"),
			SpecificationHash: hash,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported update kind %q", kind)
	}
}

func exchangeRate(c *cli.Context) types.ExchangeRate {
	return types.ExchangeRate{Numerator: c.Uint64("numerator"), Denominator: c.Uint64("denominator")}
}

func createProposal(c *cli.Context, tx codec.Transaction, slots []proposal.Slot) error {
	rt, err := newRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	view, err := rt.wallet.CreateProposal(tx, c.Int("threshold"), slots)
	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}
	return printJSON(view)
}

func signCommand(c *cli.Context) error {
	index, err := parseIndex(c.String("slot"))
	if err != nil {
		return err
	}
	devicePath, keyLabel := c.String("device-path"), c.String("key")
	if (devicePath == "") == (keyLabel == "") {
		return fmt.Errorf("exactly one of --device-path and --key is required")
	}

	rt, err := newRuntime(c, devicePath != "")
	if err != nil {
		return err
	}
	defer rt.Close()

	var s signer.ISigner
	if devicePath != "" {
		path, err := ledger.ParsePath(devicePath)
		if err != nil {
			return err
		}
		if s, err = deviceSigner.NewDeviceSigner(rt.session, path, rt.logger); err != nil {
			return err
		}
		fmt.Printf("Confirm the transaction on the device (slot %s)...\n", index)
	} else {
		ks, err := keystore.Load(rt.cfg.Keystore.Path, c.String("passphrase"))
		if err != nil {
			return err
		}
		if s, err = inMemorySigner.NewFromKeyStore(ks, keyLabel, rt.logger); err != nil {
			return err
		}
	}

	view, err := rt.wallet.RequestSignature(c.Context, c.String("id"), index, s)
	if err != nil {
		if types.IsCancellation(err) {
			fmt.Printf("Signing was declined; the proposal is unchanged\n")
		}
		return err
	}
	fmt.Printf("✅ Slot %s signed, %d of %d signatures\n", index, view.Obtained, view.Required)
	return nil
}

func showCommand(c *cli.Context) error {
	rt, err := newRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if id := c.String("id"); id != "" {
		view, err := rt.wallet.View(id)
		if err != nil {
			return err
		}
		return printJSON(view)
	}
	var statuses []proposal.Status
	for _, raw := range c.StringSlice("status") {
		status, err := proposal.ParseStatus(raw)
		if err != nil {
			return err
		}
		statuses = append(statuses, status)
	}
	views, err := rt.wallet.List(statuses...)
	if err != nil {
		return err
	}
	return printJSON(views)
}

func exportCommand(c *cli.Context) error {
	rt, err := newRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	var out io.Writer = os.Stdout
	if path := c.String("output"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		out = f
	}
	if err := rt.wallet.Export(c.String("id"), out); err != nil {
		return err
	}
	if path := c.String("output"); path != "" {
		fmt.Printf("✅ Proposal written to %s\n", path)
	}
	return nil
}

func importCommand(c *cli.Context) error {
	rt, err := newRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	f, err := os.Open(c.String("input"))
	if err != nil {
		return err
	}
	defer f.Close()

	view, added, err := rt.wallet.Import(f)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Proposal %s: %d new signatures, %d of %d\n", view.ID, added, view.Obtained, view.Required)
	return nil
}

func submitCommand(c *cli.Context) error {
	rt, err := newRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	hash, err := rt.wallet.Submit(c.Context, c.String("id"))
	if err != nil {
		if types.IsRetryable(err) {
			return fmt.Errorf("submission failed, the proposal is still open and can be submitted again: %w", err)
		}
		return err
	}
	fmt.Printf("✅ Submitted, transaction hash %s\n", hash)
	return nil
}

func pollCommand(c *cli.Context) error {
	rt, err := newRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	var status proposal.Status
	if c.Bool("watch") {
		status, err = rt.wallet.Watch(c.Context, c.String("id"))
	} else {
		status, err = rt.wallet.Poll(c.Context, c.String("id"))
	}
	if err != nil {
		return err
	}
	fmt.Printf("Proposal %s is %s\n", c.String("id"), status)
	return nil
}

func discardCommand(c *cli.Context) error {
	rt, err := newRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.wallet.Discard(c.String("id"), c.String("reason")); err != nil {
		return err
	}
	fmt.Printf("Proposal %s closed, nothing was sent to the chain\n", c.String("id"))
	return nil
}
