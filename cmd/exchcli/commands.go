package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/exchangelabs/exchanged/exchcfg"
	"github.com/exchangelabs/exchanged/exchrpc"
	"github.com/exchangelabs/exchanged/kyc"
	"github.com/urfave/cli"
)

var newKeyCommand = cli.Command{
	Name:     "newkey",
	Category: "Identity",
	Usage:    "Generate a new identity key and store it in the keyfile.",
	Action:   actionDecorator(newKey),
}

func newKey(ctx *cli.Context) error {
	path := exchcfg.CleanAndExpandPath(ctx.GlobalString("keyfile"))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("key file %v already exists", path)
	}

	key, err := btcec.NewPrivateKey()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	err = os.WriteFile(
		path, []byte(hex.EncodeToString(key.Serialize())), 0600,
	)
	if err != nil {
		return err
	}

	printJSON(map[string]string{
		"identity_key": kyc.KeyHex(key.PubKey()),
		"keyfile":      path,
	})

	return nil
}

var identityCommand = cli.Command{
	Name:     "identity",
	Category: "Identity",
	Usage:    "Show the exchange's identity key and version.",
	Action:   actionDecorator(identity),
}

func identity(ctx *cli.Context) error {
	ctxc := getContext()
	client, _ := getClient(ctx)

	resp, err := client.Identity(ctxc)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var balanceCommand = cli.Command{
	Name:     "balance",
	Category: "Ledger",
	Usage:    "Show your balance in both currencies.",
	Action:   actionDecorator(balance),
}

func balance(ctx *cli.Context) error {
	ctxc := getContext()
	client, _ := getClient(ctx)

	resp, err := client.Balance(ctxc)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var depositCommand = cli.Command{
	Name:      "deposit",
	Category:  "Ledger",
	Usage:     "Credit a payment made to the exchange.",
	ArgsUsage: "raw_payment",
	Description: `
	Submit a hex encoded payment whose first output pays the key derived
	from the exchange's identity key with the given derivation prefix and
	suffix.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "prefix",
			Usage: "the derivation prefix of the payment",
		},
		cli.StringFlag{
			Name:  "suffix",
			Usage: "the derivation suffix of the payment",
		},
		cli.Int64Flag{
			Name: "amount",
			Usage: "if set, the amount in base units the " +
				"payment must carry",
		},
		cli.StringFlag{
			Name: "serial",
			Usage: "the certificate to present, the current " +
				"one if not set",
		},
	},
	Action: actionDecorator(depositPayment),
}

func depositPayment(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "deposit")
	}
	if !ctx.IsSet("prefix") || !ctx.IsSet("suffix") {
		return errors.New("prefix and suffix are required")
	}

	ctxc := getContext()
	client, _ := getClient(ctx)

	resp, err := client.Deposit(ctxc, &exchrpc.DepositRequest{
		RawPayment:        ctx.Args().First(),
		DerivationPrefix:  ctx.String("prefix"),
		DerivationSuffix:  ctx.String("suffix"),
		DeclaredAmount:    ctx.Int64("amount"),
		CertificateSerial: ctx.String("serial"),
	})
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var withdrawCommand = cli.Command{
	Name:      "withdraw",
	Category:  "Ledger",
	Usage:     "Withdraw base units as a payment to a derived key.",
	ArgsUsage: "amount",
	Action:    actionDecorator(withdraw),
}

func withdraw(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "withdraw")
	}

	amount, err := strconv.ParseInt(ctx.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	ctxc := getContext()
	client, _ := getClient(ctx)

	resp, err := client.Withdraw(ctxc, amount)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var swapCommand = cli.Command{
	Name:      "swap",
	Category:  "Ledger",
	Usage:     "Convert between base units and fiat.",
	ArgsUsage: "direction amount",
	Description: `
	Direction is base_to_fiat or fiat_to_base. The amount is in the
	currency being sold: base units for base_to_fiat, a decimal fiat
	amount for fiat_to_base.`,
	Action: actionDecorator(swapCurrencies),
}

func swapCurrencies(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "swap")
	}

	ctxc := getContext()
	client, _ := getClient(ctx)

	resp, err := client.Swap(ctxc, &exchrpc.SwapRequest{
		Direction: ctx.Args().Get(0),
		Amount:    ctx.Args().Get(1),
	})
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var entriesCommand = cli.Command{
	Name:     "entries",
	Category: "Ledger",
	Usage:    "List your newest ledger entries.",
	Flags: []cli.Flag{
		cli.UintFlag{
			Name:  "limit",
			Value: 20,
			Usage: "the maximum number of entries to return",
		},
	},
	Action: actionDecorator(listEntries),
}

func listEntries(ctx *cli.Context) error {
	ctxc := getContext()
	client, _ := getClient(ctx)

	resp, err := client.Entries(ctxc, uint32(ctx.Uint("limit")))
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var issueCertCommand = cli.Command{
	Name:      "issuecert",
	Category:  "Certificates",
	Usage:     "Request an identity certificate from the exchange.",
	ArgsUsage: "official_name",
	Description: `
	Sign an authorization for the given official name with the identity
	key and ask the exchange to certify it.`,
	Action: actionDecorator(issueCert),
}

func issueCert(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "issuecert")
	}
	name := ctx.Args().First()

	ctxc := getContext()
	client, key := getClient(ctx)

	identity, err := client.Identity(ctxc)
	if err != nil {
		return err
	}
	certifier, err := kyc.ParseIdentityKey(identity.IdentityKey)
	if err != nil {
		return err
	}

	resp, err := client.IssueCertificate(
		ctxc, &exchrpc.IssueCertificateRequest{
			CertifierKey: identity.IdentityKey,
			OfficialName: name,
			SignedAuthorization: hex.EncodeToString(
				kyc.SignAuthorization(key, certifier, name),
			),
		},
	)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var certStatusCommand = cli.Command{
	Name:      "certstatus",
	Category:  "Certificates",
	Usage:     "Show a certificate and whether it is revoked.",
	ArgsUsage: "[serial]",
	Description: `
	Look up the certificate with the given serial number, or your current
	certificate if none is given.`,
	Action: actionDecorator(certStatus),
}

func certStatus(ctx *cli.Context) error {
	ctxc := getContext()
	client, _ := getClient(ctx)

	var (
		resp *exchrpc.CertificateStatus
		err  error
	)
	if ctx.NArg() == 0 {
		resp, err = client.CurrentCertificate(ctxc)
	} else {
		resp, err = client.CertificateStatus(ctxc, ctx.Args().First())
	}
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var revokeCertCommand = cli.Command{
	Name:      "revokecert",
	Category:  "Certificates",
	Usage:     "Revoke one of your certificates.",
	ArgsUsage: "serial",
	Action:    actionDecorator(revokeCert),
}

func revokeCert(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "revokecert")
	}

	ctxc := getContext()
	client, _ := getClient(ctx)

	resp, err := client.RevokeCertificate(ctxc, ctx.Args().First())
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}
