package exchanged

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/exchangelabs/exchanged/build"
	"github.com/exchangelabs/exchanged/exchcfg"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultDataDirname     = "data"
	defaultLogDirname      = "logs"
	defaultLogFilename     = "exchanged.log"
	defaultTLSCertFilename = "tls.cert"
	defaultTLSKeyFilename  = "tls.key"
	defaultWalletKeyName   = "memwallet.key"

	defaultRPCPort = 8443

	defaultLogLevel = "info"

	// defaultTLSCertDuration is the default validity of the self-signed
	// RPC certificate.
	defaultTLSCertDuration = 14 * 30 * 24 * time.Hour

	defaultNetwork = "mainnet"
)

var (
	// DefaultExchDir is the default directory where exchanged tries to
	// find its configuration file and store its data.
	DefaultExchDir = btcutil.AppDataDir("exchanged", false)

	// DefaultConfigFile is the default full path of exchanged's
	// configuration file.
	DefaultConfigFile = filepath.Join(
		DefaultExchDir, exchcfg.DefaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultExchDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultExchDir, defaultLogDirname)

	defaultTLSCertPath = filepath.Join(
		DefaultExchDir, defaultTLSCertFilename,
	)
	defaultTLSKeyPath = filepath.Join(DefaultExchDir, defaultTLSKeyFilename)

	defaultRPCListen = fmt.Sprintf("localhost:%d", defaultRPCPort)
)

// networkParams maps the accepted network names to their chain parameters.
var networkParams = map[string]*chaincfg.Params{
	"mainnet": &chaincfg.MainNetParams,
	"testnet": &chaincfg.TestNet3Params,
	"regtest": &chaincfg.RegressionNetParams,
	"simnet":  &chaincfg.SimNetParams,
}

// Config defines the configuration options for exchanged.
//
// See LoadConfig for further details regarding the configuration loading+
// parsing process.
//
//nolint:ll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	ExchDir    string `long:"exchdir" description:"The base directory that contains exchanged's data, logs, configuration file, etc."`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store exchanged's data within"`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	DebugLevel string                    `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	LogConfig  *build.FileLoggerConfig `group:"logging" namespace:"logging"`

	Network string `long:"network" description:"The network anchor scripts are built for." choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet"`

	RPCListen          string        `long:"rpclisten" description:"Add an interface/port/socket to listen for RPC connections"`
	NoTLS              bool          `long:"notls" description:"Serve RPC over plain HTTP. Only for use behind a TLS terminating proxy."`
	TLSCertPath        string        `long:"tlscertpath" description:"Path to write the TLS certificate for exchanged's RPC services"`
	TLSKeyPath         string        `long:"tlskeypath" description:"Path to write the TLS private key for exchanged's RPC services"`
	TLSExtraIPs        []string      `long:"tlsextraip" description:"Adds an extra ip to the generated certificate"`
	TLSExtraDomains    []string      `long:"tlsextradomain" description:"Adds an extra domain to the generated certificate"`
	TLSAutoRefresh     bool          `long:"tlsautorefresh" description:"Re-generate TLS certificate and key if the IPs or domains are changed"`
	TLSDisableAutofill bool          `long:"tlsdisableautofill" description:"Do not include the interface IPs or the system hostname in TLS certificate, use first --tlsextradomain as Common Name instead, if set"`
	TLSCertDuration    time.Duration `long:"tlscertduration" description:"The duration for which the auto-generated TLS certificate will be valid for"`

	DB *exchcfg.DB `group:"db" namespace:"db"`

	Wallet *exchcfg.Wallet `group:"wallet" namespace:"wallet"`

	Chain *exchcfg.Chain `group:"chain" namespace:"chain"`

	Sanctions *exchcfg.Sanctions `group:"sanctions" namespace:"sanctions"`

	KYC *exchcfg.KYC `group:"kyc" namespace:"kyc"`

	Swap *exchcfg.Swap `group:"swap" namespace:"swap"`

	Auth *exchcfg.Auth `group:"auth" namespace:"auth"`

	HealthChecks *exchcfg.HealthCheckConfig `group:"healthcheck" namespace:"healthcheck"`

	Prometheus *exchcfg.Prometheus `group:"prometheus" namespace:"prometheus"`

	// ActiveNetParams contains parameters of the selected network.
	ActiveNetParams *chaincfg.Params

	// configFileError is a non fatal problem reading the config file. It
	// is logged once logging is up.
	configFileError error
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		ExchDir:         DefaultExchDir,
		ConfigFile:      DefaultConfigFile,
		DataDir:         defaultDataDir,
		LogDir:          defaultLogDir,
		DebugLevel:      defaultLogLevel,
		LogConfig:       build.DefaultFileLoggerConfig(),
		Network:         defaultNetwork,
		RPCListen:       defaultRPCListen,
		TLSCertPath:     defaultTLSCertPath,
		TLSKeyPath:      defaultTLSKeyPath,
		TLSCertDuration: defaultTLSCertDuration,
		DB:              exchcfg.DefaultDB(),
		Wallet:          exchcfg.DefaultWallet(),
		Chain:           exchcfg.DefaultChain(),
		Sanctions:       exchcfg.DefaultSanctions(),
		KYC:             exchcfg.DefaultKYC(),
		Swap:            exchcfg.DefaultSwap(),
		Auth:            exchcfg.DefaultAuth(),
		HealthChecks: &exchcfg.HealthCheckConfig{
			DatabaseCheck: &exchcfg.CheckConfig{
				Interval: time.Minute,
				Attempts: 3,
				Timeout:  10 * time.Second,
				Backoff:  5 * time.Second,
			},
			WalletCheck: &exchcfg.CheckConfig{
				Interval: time.Minute,
				Attempts: 3,
				Timeout:  10 * time.Second,
				Backoff:  5 * time.Second,
			},
			ChainCheck: &exchcfg.CheckConfig{
				Interval: 5 * time.Minute,
				Attempts: 0,
				Timeout:  10 * time.Second,
				Backoff:  30 * time.Second,
			},
		},
		Prometheus: exchcfg.DefaultPrometheus(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(args []string) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.ParseArgs(&preCfg, args); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.Version(),
			"commit="+build.Commit)
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their exchdir, then we should assume they intend to use the
	// config file within it.
	configFileDir := exchcfg.CleanAndExpandPath(preCfg.ExchDir)
	configFilePath := exchcfg.CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultExchDir {
		if configFilePath == DefaultConfigFile {
			configFilePath = filepath.Join(
				configFileDir, exchcfg.DefaultConfigFilename,
			)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.ParseArgs(&cfg, args); err != nil {
		return nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, err
	}
	cleanCfg.configFileError = configFileError

	return cleanCfg, nil
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config) (*Config, error) {
	// If the provided exchanged directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	exchDir := exchcfg.CleanAndExpandPath(cfg.ExchDir)
	if exchDir != DefaultExchDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(exchDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(exchDir, defaultLogDirname)
		}
		if cfg.TLSCertPath == defaultTLSCertPath {
			cfg.TLSCertPath = filepath.Join(
				exchDir, defaultTLSCertFilename,
			)
		}
		if cfg.TLSKeyPath == defaultTLSKeyPath {
			cfg.TLSKeyPath = filepath.Join(
				exchDir, defaultTLSKeyFilename,
			)
		}
	}

	// As soon as we're done parsing configuration options, ensure all
	// paths to directories and files are cleaned and expanded before
	// attempting to use them later on.
	cfg.DataDir = exchcfg.CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = exchcfg.CleanAndExpandPath(cfg.LogDir)
	cfg.TLSCertPath = exchcfg.CleanAndExpandPath(cfg.TLSCertPath)
	cfg.TLSKeyPath = exchcfg.CleanAndExpandPath(cfg.TLSKeyPath)
	cfg.Sanctions.ListFile = exchcfg.CleanAndExpandPath(
		cfg.Sanctions.ListFile,
	)
	cfg.Wallet.KeyFile = exchcfg.CleanAndExpandPath(cfg.Wallet.KeyFile)
	if cfg.Wallet.KeyFile == "" {
		cfg.Wallet.KeyFile = filepath.Join(
			cfg.DataDir, defaultWalletKeyName,
		)
	}

	params, ok := networkParams[cfg.Network]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", cfg.Network)
	}
	cfg.ActiveNetParams = params

	if _, _, err := net.SplitHostPort(cfg.RPCListen); err != nil {
		return nil, fmt.Errorf("invalid rpclisten %q: %w",
			cfg.RPCListen, err)
	}

	if cfg.Wallet.Backend == exchcfg.MemWalletBackend &&
		cfg.Network == "mainnet" {

		return nil, fmt.Errorf("the %v wallet backend is not "+
			"available on mainnet", exchcfg.MemWalletBackend)
	}

	// A chain health check needs a chain backend to talk to.
	if cfg.HealthChecks.ChainCheck.Enabled() && !cfg.Chain.Enabled() {
		return nil, fmt.Errorf("chain health check enabled without " +
			"chain.esploraurl")
	}

	// Validate the subconfigs.
	err := exchcfg.Validate(
		cfg.LogConfig,
		cfg.DB,
		cfg.Wallet,
		cfg.Chain,
		cfg.Sanctions,
		cfg.KYC,
		cfg.Swap,
		cfg.Auth,
		cfg.HealthChecks,
		cfg.Prometheus,
	)
	if err != nil {
		return nil, err
	}

	// All good, return the sanitized result.
	return &cfg, nil
}
