// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/joinswap/internal/cfgutil"
	"github.com/decred/joinswap/maker"
	"github.com/decred/joinswap/netparams"
	"github.com/decred/joinswap/peer"
	"github.com/decred/joinswap/swaptx"
	"github.com/decred/joinswap/version"
	"github.com/decred/slog"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultCAFilename     = "dcrwallet.cert"
	defaultConfigFilename = "joinswapd.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "joinswapd.log"
)

var (
	walletDefaultCAFile = filepath.Join(dcrutil.AppDataDir("dcrwallet", false), "rpc.cert")
	defaultAppDataDir   = dcrutil.AppDataDir("joinswapd", false)
	defaultConfigFile   = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultTLSKeyFile   = filepath.Join(defaultAppDataDir, "maker.key")
	defaultTLSCertFile  = filepath.Join(defaultAppDataDir, "maker.cert")
	defaultLogDir       = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile  *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool                    `short:"V" long:"version" description:"Display version information and exit"`
	AppDataDir  *cfgutil.ExplicitString `short:"A" long:"appdata" description:"Application data directory for joinswapd config, certificates and logs"`
	TestNet     bool                    `long:"testnet" description:"Use the test network"`
	SimNet      bool                    `long:"simnet" description:"Use the simulation test network"`
	DebugLevel  string                  `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogDir      *cfgutil.ExplicitString `long:"logdir" description:"Directory to log output."`

	// Wallet RPC client options
	RPCConnect       string                  `short:"c" long:"rpcconnect" description:"Hostname/IP and port of dcrwallet RPC server to connect to"`
	CAFile           *cfgutil.ExplicitString `long:"cafile" description:"File containing root certificates to authenticate a TLS connections with dcrwallet"`
	DisableClientTLS bool                    `long:"noclienttls" description:"Disable TLS for the RPC client -- NOTE: This is only allowed if the RPC client is connecting to localhost"`
	WalletPassword   string                  `long:"walletpassword" default-mask:"-" description:"The private passphrase to unlock the wallet"`
	Account          uint32                  `long:"account" description:"BIP0044 account number to use for transactions"`
	AccountName      string                  `long:"accountname" description:"Name of the account to use for transactions -- NOTE: This takes precedence over the numeric specification"`
	MemWallet        bool                    `long:"memwallet" description:"Pay from a funded in-memory wallet instead of dcrwallet -- NOTE: This is only allowed on simnet"`

	// Maker server options
	Listen           string                  `long:"listen" description:"Listen for user connections on this interface/port"`
	TLSCert          *cfgutil.ExplicitString `long:"tlscert" description:"File containing the certificate file"`
	TLSKey           *cfgutil.ExplicitString `long:"tlskey" description:"File containing the certificate key"`
	TLSCurve         *cfgutil.CurveFlag      `long:"tlscurve" description:"Curve to use when generating TLS keypairs"`
	OneTimeTLSKey    bool                    `long:"onetimetlskey" description:"Generate a new TLS certpair at startup, but only write the certificate to disk"`
	DisableServerTLS bool                    `long:"noservertls" description:"Disable TLS for the maker server -- NOTE: This is only allowed if the server is bound to localhost"`

	// JoinSwap specific options
	Payout      float64       `long:"payout" description:"Value in DCR of every phase two contract"`
	FeeRate     float64       `long:"feerate" description:"Fee rate in DCR/kB of the phase one funding transaction"`
	IdleTimeout time.Duration `long:"idletimeout" description:"Time to wait for any single user message before aborting the swap"`
	Publish     bool          `long:"publish" description:"Publish the funding transactions and the final redemption through the wallet"`

	payout  dcrutil.Amount
	feeRate dcrutil.Amount
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := slog.LevelFromString(logLevel)
	return ok
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// A level without delimiters applies to all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%v] is invalid",
				debugLevel)
		}
		setLogLevels(debugLevel)
		return nil
	}

	// Otherwise the string is a list of subsystem=level pairs.
	for _, pair := range strings.Split(debugLevel, ",") {
		fields := strings.Split(pair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level contains an "+
				"invalid subsystem/level pair [%v]", pair)
		}
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := subsystemLoggers[subsysID]; !exists {
			return fmt.Errorf("the specified subsystem [%v] is invalid "+
				"-- supported subsytems %v", subsysID,
				supportedSubsystems())
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is invalid",
				logLevel)
		}
		setLogLevel(subsysID, logLevel)
	}
	return nil
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//      1) Start with a default config with sane settings
//      2) Pre-parse the command line to check for an alternative config file
//      3) Load configuration file overwriting defaults with any specified options
//      4) Parse CLI options and overwrite/add any specified options
//
// Command line options always take precedence.
func loadConfig(ctx context.Context) (*config, []string, error) {
	loadConfigError := func(err error) (*config, []string, error) {
		return nil, nil, err
	}

	// Default config.
	cfg := config{
		DebugLevel:  defaultLogLevel,
		ConfigFile:  cfgutil.NewExplicitString(defaultConfigFile),
		AppDataDir:  cfgutil.NewExplicitString(defaultAppDataDir),
		LogDir:      cfgutil.NewExplicitString(defaultLogDir),
		CAFile:      cfgutil.NewExplicitString(""),
		TLSKey:      cfgutil.NewExplicitString(defaultTLSKeyFile),
		TLSCert:     cfgutil.NewExplicitString(defaultTLSCertFile),
		TLSCurve:    cfgutil.NewCurveFlag(cfgutil.CurveP521),
		Payout:      dcrutil.Amount(maker.DefaultPayout).ToCoin(),
		FeeRate:     swaptx.DefaultFeeRate.ToCoin(),
		IdleTimeout: peer.DefaultIdleTimeout,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		e, ok := err.(*flags.Error)
		if ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		preParser.WriteHelp(os.Stderr)
		return loadConfigError(err)
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s)\n", appName,
			version.String(), runtime.Version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath := preCfg.ConfigFile.Value
	if preCfg.ConfigFile.ExplicitlySet() {
		configFilePath = cfgutil.CleanAndExpandPath(configFilePath)
	} else if preCfg.AppDataDir.Value != defaultAppDataDir {
		configFilePath = filepath.Join(preCfg.AppDataDir.Value,
			defaultConfigFilename)
	}
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return loadConfigError(err)
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return loadConfigError(err)
	}

	// Paths with defaults relative to an explicitly set data directory
	// move along with it.
	if cfg.AppDataDir.ExplicitlySet() {
		cfg.AppDataDir.Value = cfgutil.CleanAndExpandPath(cfg.AppDataDir.Value)
		if !cfg.TLSKey.ExplicitlySet() {
			cfg.TLSKey.Value = filepath.Join(cfg.AppDataDir.Value, "maker.key")
		}
		if !cfg.TLSCert.ExplicitlySet() {
			cfg.TLSCert.Value = filepath.Join(cfg.AppDataDir.Value, "maker.cert")
		}
		if !cfg.LogDir.ExplicitlySet() {
			cfg.LogDir.Value = filepath.Join(cfg.AppDataDir.Value, defaultLogDirname)
		}
	}

	// Choose the active network params based on the selected network.
	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if cfg.TestNet {
		activeNet = &netparams.TestNet3Params
		numNets++
	}
	if cfg.SimNet {
		activeNet = &netparams.SimNetParams
		numNets++
	}
	if numNets > 1 {
		str := "%s: The testnet and simnet params can't be used " +
			"together -- choose one"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		return loadConfigError(err)
	}

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	cfg.LogDir.Value = cfgutil.CleanAndExpandPath(cfg.LogDir.Value)
	cfg.LogDir.Value = filepath.Join(cfg.LogDir.Value, activeNet.Params.Name)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized, the
	// logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir.Value, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return loadConfigError(err)
	}

	// Error and shutdown if config file is specified on the command line
	// but cannot be found.
	if configFileError != nil && cfg.ConfigFile.ExplicitlySet() {
		log.Errorf("%v", configFileError)
		return loadConfigError(configFileError)
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	// Swap amounts.
	cfg.payout, err = dcrutil.NewAmount(cfg.Payout)
	if err != nil || cfg.payout <= 0 {
		err := fmt.Errorf("%s: invalid payout %v", funcName, cfg.Payout)
		fmt.Fprintln(os.Stderr, err)
		return loadConfigError(err)
	}
	cfg.feeRate, err = dcrutil.NewAmount(cfg.FeeRate)
	if err != nil || cfg.feeRate <= 0 {
		err := fmt.Errorf("%s: invalid fee rate %v", funcName, cfg.FeeRate)
		fmt.Fprintln(os.Stderr, err)
		return loadConfigError(err)
	}
	if cfg.IdleTimeout <= 0 {
		err := fmt.Errorf("%s: the idle timeout must be positive",
			funcName)
		fmt.Fprintln(os.Stderr, err)
		return loadConfigError(err)
	}

	// The in-memory wallet lives on a private chain which knows nothing
	// of the users' collaterals.
	if cfg.MemWallet {
		if !cfg.SimNet {
			err := fmt.Errorf("%s: the --memwallet option may only be "+
				"used on simnet", funcName)
			fmt.Fprintln(os.Stderr, err)
			return loadConfigError(err)
		}
		if cfg.Publish {
			err := fmt.Errorf("%s: the --memwallet and --publish "+
				"options can't be used together", funcName)
			fmt.Fprintln(os.Stderr, err)
			return loadConfigError(err)
		}
	} else if err := setupWalletRPC(&cfg, usageMessage); err != nil {
		return loadConfigError(err)
	}

	// Default to a localhost listen address.
	if cfg.Listen == "" {
		cfg.Listen = net.JoinHostPort("localhost", activeNet.MakerServerPort)
	}
	cfg.Listen, err = cfgutil.NormalizeAddress(cfg.Listen,
		activeNet.MakerServerPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid network address in --listen: %v\n", err)
		return loadConfigError(err)
	}

	// Only allow server TLS to be disabled if the server is bound to
	// localhost.
	if cfg.DisableServerTLS && !cfgutil.IsLocalhost(cfg.Listen) {
		str := "%s: the --noservertls option may not be used " +
			"when binding to non localhost addresses: %s"
		err := fmt.Errorf(str, funcName, cfg.Listen)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return loadConfigError(err)
	}

	// Expand environment variable and leading ~ for filepaths.
	cfg.CAFile.Value = cfgutil.CleanAndExpandPath(cfg.CAFile.Value)
	cfg.TLSCert.Value = cfgutil.CleanAndExpandPath(cfg.TLSCert.Value)
	cfg.TLSKey.Value = cfgutil.CleanAndExpandPath(cfg.TLSKey.Value)

	return &cfg, remainingArgs, nil
}

// setupWalletRPC fills in the dcrwallet connection defaults and checks the
// client TLS options.
func setupWalletRPC(cfg *config, usageMessage string) error {
	if cfg.RPCConnect == "" {
		cfg.RPCConnect = net.JoinHostPort("localhost", activeNet.WalletClientPort)
	}

	// Add default port to connect flag if missing.
	var err error
	cfg.RPCConnect, err = cfgutil.NormalizeAddress(cfg.RPCConnect,
		activeNet.WalletClientPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid rpcconnect network address: %v\n", err)
		return err
	}

	localhost := cfgutil.IsLocalhost(cfg.RPCConnect)
	if cfg.DisableClientTLS {
		if !localhost {
			str := "loadConfig: the --noclienttls option may not be " +
				"used when connecting RPC to non localhost " +
				"addresses: %s"
			err := fmt.Errorf(str, cfg.RPCConnect)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return err
		}
		return nil
	}

	// If CAFile is unset, choose either the copy or local dcrwallet cert.
	if cfg.CAFile.ExplicitlySet() {
		return nil
	}
	cfg.CAFile.Value = filepath.Join(cfg.AppDataDir.Value, defaultCAFilename)
	certExists, err := cfgutil.FileExists(cfg.CAFile.Value)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	if certExists || !localhost {
		return nil
	}
	walletCertExists, err := cfgutil.FileExists(walletDefaultCAFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	if walletCertExists {
		cfg.CAFile.Value = walletDefaultCAFile
	}
	return nil
}
