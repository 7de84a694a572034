// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2015-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/joinswap/internal/cfgutil"
	"github.com/decred/joinswap/maker"
	"github.com/decred/joinswap/netparams"
	"github.com/decred/joinswap/peer"
	"github.com/decred/joinswap/user"
	"github.com/decred/joinswap/version"
	"github.com/decred/slog"
	flags "github.com/jessevdk/go-flags"
)

var (
	makerHomeDir          = dcrutil.AppDataDir("joinswapd", false)
	joinswapHomeDir       = dcrutil.AppDataDir("joinswap", false)
	dcrwalletHomeDir      = dcrutil.AppDataDir("dcrwallet", false)
	defaultConfigFile     = filepath.Join(joinswapHomeDir, "joinswap.conf")
	defaultMakerCertFile  = filepath.Join(makerHomeDir, "maker.cert")
	defaultWalletCertFile = filepath.Join(dcrwalletHomeDir, "rpc.cert")
)

// config defines the configuration options for joinswap.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	TestNet     bool   `long:"testnet" description:"Connect to testnet"`
	SimNet      bool   `long:"simnet" description:"Connect to the simulation test network"`

	// Maker connection
	MakerAddress string        `short:"s" long:"maker" description:"Maker server to connect to"`
	MakerCert    string        `long:"makercert" description:"Maker certificate chain for validation"`
	NoMakerTLS   bool          `long:"nomakertls" description:"Connect to the maker without TLS -- NOTE: This is only allowed for a maker on localhost"`
	IdleTimeout  time.Duration `long:"idletimeout" description:"Time to wait for any single maker message before aborting the swap"`

	// Wallet connection
	WalletRPCServer string `short:"w" long:"walletrpcserver" description:"Wallet RPC server to connect to"`
	WalletRPCCert   string `long:"walletrpccert" description:"Wallet RPC server certificate chain for validation"`
	NoWalletTLS     bool   `long:"nowallettls" description:"Connect to the wallet without TLS -- NOTE: This is only allowed for a wallet on localhost"`
	WalletPassword  string `long:"walletpass" default-mask:"-" description:"The private wallet password to unlock the wallet"`
	Account         uint32 `short:"a" long:"account" description:"BIP0044 account number to use for transactions"`
	AccountName     string `long:"accountname" description:"Name of the account to use for transactions -- NOTE: This takes precedence over the numeric specification"`
	MemWallet       bool   `long:"memwallet" description:"Take part from a funded in-memory wallet instead of dcrwallet -- NOTE: This is only allowed on simnet"`

	// Swap options
	Collateral       float64 `long:"collateral" description:"Value in DCR locked into the phase one contract"`
	MinPayout        float64 `long:"minpayout" description:"Lowest acceptable value in DCR of the phase two contract"`
	MinConfirmations int32   `long:"minconfs" description:"Confirmations required on the maker funding before the hashlock key is released"`

	collateral dcrutil.Amount
	minPayout  dcrutil.Amount
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
// 	1) Start with a default config with sane settings
// 	2) Pre-parse the command line to check for an alternative config file
// 	3) Load configuration file overwriting defaults with any specified options
// 	4) Parse CLI options and overwrite/add any specified options
//
// Command line options always take precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile:       defaultConfigFile,
		DebugLevel:       "info",
		MakerCert:        defaultMakerCertFile,
		WalletRPCCert:    defaultWalletCertFile,
		IdleTimeout:      peer.DefaultIdleTimeout,
		Collateral:       dcrutil.Amount(user.DefaultCollateral).ToCoin(),
		MinPayout:        dcrutil.Amount(maker.DefaultPayout).ToCoin(),
		MinConfirmations: 1,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show options", appName)
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s)\n", appName,
			version.String(), runtime.Version())
		os.Exit(0)
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(
		cfgutil.CleanAndExpandPath(preCfg.ConfigFile))
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n",
				err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

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
		str := "%s: the testnet and simnet params can't be used " +
			"together -- choose one of the two"
		err := fmt.Errorf(str, "loadConfig")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	level, ok := slog.LevelFromString(cfg.DebugLevel)
	if !ok {
		err := fmt.Errorf("the specified debug level [%v] is invalid",
			cfg.DebugLevel)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	setLogLevels(level)

	cfg.collateral, err = dcrutil.NewAmount(cfg.Collateral)
	if err != nil || cfg.collateral <= 0 {
		err := fmt.Errorf("invalid collateral %v", cfg.Collateral)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	cfg.minPayout, err = dcrutil.NewAmount(cfg.MinPayout)
	if err != nil || cfg.minPayout < 0 {
		err := fmt.Errorf("invalid minimum payout %v", cfg.MinPayout)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	if cfg.MemWallet && !cfg.SimNet {
		err := fmt.Errorf("the --memwallet option may only be used on " +
			"simnet")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Handle environment variable expansion in the certificate paths.
	cfg.MakerCert = cfgutil.CleanAndExpandPath(cfg.MakerCert)
	cfg.WalletRPCCert = cfgutil.CleanAndExpandPath(cfg.WalletRPCCert)

	// Add default ports based on --testnet and --simnet flags if needed.
	if cfg.MakerAddress == "" {
		cfg.MakerAddress = "localhost"
	}
	cfg.MakerAddress, err = cfgutil.NormalizeAddress(cfg.MakerAddress,
		activeNet.MakerServerPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid maker address: %v\n", err)
		return nil, nil, err
	}
	if cfg.WalletRPCServer == "" {
		cfg.WalletRPCServer = "localhost"
	}
	cfg.WalletRPCServer, err = cfgutil.NormalizeAddress(cfg.WalletRPCServer,
		activeNet.WalletClientPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid wallet RPC server: %v\n", err)
		return nil, nil, err
	}

	for _, c := range []struct {
		disabled bool
		addr     string
		flag     string
	}{
		{cfg.NoMakerTLS, cfg.MakerAddress, "--nomakertls"},
		{cfg.NoWalletTLS, cfg.WalletRPCServer, "--nowallettls"},
	} {
		if c.disabled && !cfgutil.IsLocalhost(c.addr) {
			err := fmt.Errorf("the %s option may not be used when "+
				"connecting to non localhost addresses: %s",
				c.flag, c.addr)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	return &cfg, remainingArgs, nil
}
