// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/mnsuite/mnd/mnconfig"
	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/paystore"
	"github.com/mnsuite/mnd/sampleconfig"
)

const (
	defaultConfigFilename = "mnd.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "mnd.log"
	defaultDbType         = paystore.BackendLevelDB
	defaultCountDrift     = -1
)

var (
	defaultHomeDir    = btcutil.AppDataDir("mnd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for mnd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion       bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile        string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir           string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir            string `long:"logdir" description:"Directory to log output."`
	DebugLevel        string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	TestNet           bool   `long:"testnet" description:"Use the test network"`
	RegressionTest    bool   `long:"regtest" description:"Use the regression test network"`
	Masternode        bool   `long:"masternode" description:"Operate as a masternode"`
	MasternodePrivKey string `long:"masternodeprivkey" description:"WIF encoded operator key of the local masternode"`
	MasternodeAddr    string `long:"masternodeaddr" description:"External address (host:port) announced by the local masternode"`
	MNConf            string `long:"mnconf" description:"Path to masternode.conf (default: <datadir>/masternode.conf)"`
	MNConfLock        bool   `long:"mnconflock" description:"Lock the collateral of the masternodes listed in masternode.conf"`
	LiteMode          bool   `long:"litemode" description:"Disable all masternode processing"`
	DbType            string `long:"dbtype" description:"Database backend of the payment history {leveldb, pebble}"`
	Prometheus        string `long:"prometheus" description:"Serve prometheus metrics on the given address (eg. 127.0.0.1:9390)"`
	MNCountDrift      int    `long:"mncountdrift" description:"Override the masternode count drift used for payment amounts (negative for the network default)"`
	EnforcePayments   bool   `long:"enforcepayments" description:"Treat masternode payment enforcement as active"`
	PayUpdatedNodes   bool   `long:"payupdatednodes" description:"Only pay masternodes running the current protocol"`
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validDbType returns whether or not dbType is a supported database type.
func validDbType(dbType string) bool {
	for _, knownType := range paystore.Backends() {
		if dbType == knownType {
			return true
		}
	}
	return false
}

// checkServiceAddr validates the external address of a masternode.  The main
// network only accepts the masternode port while the other networks reject
// it.
func checkServiceAddr(addr string, params *mnparams.Params) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %v", addr, err)
	}
	if params.IsMainNet() {
		if port != params.MasternodePort {
			return fmt.Errorf("invalid port %s for %q, only %s is "+
				"supported on mainnet", port, addr, params.MasternodePort)
		}
	} else if port == params.MasternodePort {
		return fmt.Errorf("invalid port %s for %q, %s is only "+
			"supported on mainnet", port, addr, params.MasternodePort)
	}
	return nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// createDefaultConfigFile writes the sample configuration to path, creating
// its directory when needed.
func createDefaultConfigFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(sampleconfig.FileContents), 0600)
}

// configError prints err and the usage message and returns err.
func configError(parser *flags.Parser, err error) error {
	fmt.Fprintln(os.Stderr, err)
	if parser != nil {
		parser.WriteHelp(os.Stderr)
	}
	return err
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in mnd functioning properly without any config settings
// while still allowing the user to override settings with config files and
// command line options.  Command line options always take precedence.
func loadConfig(args []string) (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile:   defaultConfigFile,
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultLogLevel,
		DbType:       defaultDbType,
		MNCountDrift: defaultCountDrift,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.PassDoubleDash)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Write the sample config on the first run.  Explicitly requested
	// files are never created.
	if preCfg.ConfigFile == defaultConfigFile && !fileExists(defaultConfigFile) {
		err := createDefaultConfigFile(defaultConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a default config "+
				"file: %v\n", err)
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			return nil, nil, configError(parser,
				fmt.Errorf("error parsing config file: %v", err))
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, configError(parser, err)
	}

	funcName := "loadConfig"

	// The two test networks can't be selected simultaneously.
	if cfg.TestNet && cfg.RegressionTest {
		str := "%s: the testnet and regtest params can't be used " +
			"together -- choose one of the two"
		return nil, nil, configError(parser, fmt.Errorf(str, funcName))
	}
	activeNetParams = netParams(cfg.TestNet, cfg.RegressionTest,
		cfg.MNCountDrift)

	// Append the network type to the data and log directories so they
	// are "namespaced" per network.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, activeNetParams.Name)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, activeNetParams.Name)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, configError(parser,
			fmt.Errorf("%s: %v", funcName, err))
	}

	// Validate database type.
	if !validDbType(cfg.DbType) {
		str := "%s: the specified database type [%v] is invalid -- " +
			"supported types %v"
		return nil, nil, configError(parser, fmt.Errorf(str, funcName,
			cfg.DbType, paystore.Backends()))
	}

	if cfg.LiteMode && cfg.Masternode {
		str := "%s: the --litemode and --masternode options can not " +
			"be used together"
		return nil, nil, configError(parser, fmt.Errorf(str, funcName))
	}

	if cfg.Masternode && cfg.MasternodePrivKey == "" {
		str := "%s: the --masternode option requires " +
			"--masternodeprivkey to be set"
		return nil, nil, configError(parser, fmt.Errorf(str, funcName))
	}

	if cfg.MasternodeAddr != "" {
		err := checkServiceAddr(cfg.MasternodeAddr, activeNetParams)
		if err != nil {
			return nil, nil, configError(parser,
				fmt.Errorf("%s: --masternodeaddr: %v", funcName, err))
		}
	}

	if cfg.MNConf == "" {
		cfg.MNConf = filepath.Join(cfg.DataDir, mnconfig.DefaultFileName)
	}
	cfg.MNConf = cleanAndExpandPath(cfg.MNConf)

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		mndLog.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}
