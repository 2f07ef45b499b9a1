package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/exchangelabs/exchanged/build"
	"github.com/exchangelabs/exchanged/exchcfg"
	"github.com/exchangelabs/exchanged/exchrpc"
	"github.com/urfave/cli"
)

const (
	defaultTLSCertFilename = "tls.cert"
	defaultKeyFilename     = "exchcli.key"
	defaultRPCServer       = "localhost:8443"
)

var (
	defaultExchDir     = btcutil.AppDataDir("exchanged", false)
	defaultCliDir      = btcutil.AppDataDir("exchcli", false)
	defaultTLSCertPath = filepath.Join(defaultExchDir, defaultTLSCertFilename)
	defaultKeyPath     = filepath.Join(defaultCliDir, defaultKeyFilename)
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[exchcli] %v\n", err)
	os.Exit(1)
}

// getContext returns a context that is cancelled on an interrupt.
func getContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	return ctx
}

// actionDecorator prints the API error body of a failed call in full.
func actionDecorator(f func(*cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		err := f(c)

		var statusErr *exchrpc.StatusError
		if errors.As(err, &statusErr) {
			printJSON(statusErr.Response)
			return fmt.Errorf("request failed with status %d",
				statusErr.StatusCode)
		}

		return err
	}
}

func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fatal(err)
	}

	fmt.Println(string(b))
}

// readKey reads the hex private key the requests are signed with.
func readKey(path string) (*btcec.PrivateKey, error) {
	raw, err := os.ReadFile(exchcfg.CleanAndExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("unable to read key file: %w "+
			"(create one with the newkey command)", err)
	}

	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(keyBytes) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("key file %v does not hold a hex "+
			"private key", path)
	}
	key, _ := btcec.PrivKeyFromBytes(keyBytes)

	return key, nil
}

// httpClient returns a client trusting the exchange's TLS certificate.
func httpClient(ctx *cli.Context) (*http.Client, error) {
	if ctx.GlobalBool("insecure") {
		return http.DefaultClient, nil
	}

	certPath := exchcfg.CleanAndExpandPath(ctx.GlobalString("tlscertpath"))
	pem, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read TLS certificate: %w",
			err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificate found in %v", certPath)
	}

	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    pool,
				MinVersion: tls.VersionTLS12,
			},
		},
	}, nil
}

// getClient creates an API client signing with the key in the keyfile.
func getClient(ctx *cli.Context) (*exchrpc.Client, *btcec.PrivateKey) {
	key, err := readKey(ctx.GlobalString("keyfile"))
	if err != nil {
		fatal(err)
	}

	client, err := httpClient(ctx)
	if err != nil {
		fatal(err)
	}

	scheme := "https://"
	if ctx.GlobalBool("insecure") {
		scheme = "http://"
	}

	return exchrpc.NewClient(
		scheme+ctx.GlobalString("rpcserver"), key, client,
	), key
}

func main() {
	app := cli.NewApp()
	app.Name = "exchcli"
	app.Version = build.Version() + " commit=" + build.Commit
	app.Usage = "control plane for your exchange daemon (exchanged)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: defaultRPCServer,
			Usage: "The host:port of the exchange daemon.",
		},
		cli.StringFlag{
			Name:      "tlscertpath",
			Value:     defaultTLSCertPath,
			Usage:     "The path to exchanged's TLS certificate.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:      "keyfile",
			Value:     defaultKeyPath,
			Usage:     "The path to the hex identity key file.",
			TakesFile: true,
		},
		cli.BoolFlag{
			Name: "insecure",
			Usage: "Connect to the rpc server over plain " +
				"HTTP",
		},
	}
	app.Commands = []cli.Command{
		newKeyCommand,
		identityCommand,
		balanceCommand,
		depositCommand,
		withdrawCommand,
		swapCommand,
		entriesCommand,
		issueCertCommand,
		certStatusCommand,
		revokeCertCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
