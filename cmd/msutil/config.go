// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"
	"github.com/btcsuite/miniscript/descdb"
	"github.com/btcsuite/miniscript/internal/version"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultDbType     = descdb.LevelDB
	defaultLogLevel   = "info"
	defaultLogDirname = "logs"
	defaultLogFile    = "msutil.log"
)

var (
	msutilHomeDir   = btcutil.AppDataDir("msutil", false)
	defaultDataDir  = filepath.Join(msutilHomeDir, "data")
	defaultLogDir   = filepath.Join(msutilHomeDir, defaultLogDirname)
	knownDbTypes    = descdb.SupportedDbTypes()
	activeNetParams = &chaincfg.MainNetParams
)

// config defines the configuration options for msutil.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion    bool   `short:"V" long:"version" description:"Display version information and exit"`
	DataDir        string `short:"b" long:"datadir" description:"Directory of the descriptor database"`
	DbType         string `long:"dbtype" description:"Database backend to use for the descriptor database"`
	LogDir         string `long:"logdir" description:"Directory to log output"`
	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	Legacy         bool   `long:"legacy" description:"Decode and parse miniscripts for P2SH redeem scripts instead of P2WSH witness scripts"`
	NoSigCheck     bool   `long:"nosigcheck" description:"Accept every signature when verifying a spend"`
	Tx             string `long:"tx" description:"Hex encoded spending transaction, used for signature checks and time locks"`
	Input          uint32 `long:"input" description:"Index of the verified input in --tx"`
	Amount         int64  `long:"amount" description:"Value in satoshi of the output being spent"`
	RegressionTest bool   `long:"regtest" description:"Use the regression test network"`
	SimNet         bool   `long:"simnet" description:"Use the simulation test network"`
	SigNet         bool   `long:"signet" description:"Use the signet test network"`
	TestNet3       bool   `long:"testnet" description:"Use the test network"`
}

// validDbType returns whether or not dbType is a supported database type.
func validDbType(dbType string) bool {
	for _, knownType := range knownDbTypes {
		if dbType == knownType {
			return true
		}
	}

	return false
}

// netName returns the name used when referring to a bitcoin network.  The
// data directory of testnet version 3 is named "testnet" rather than the
// Name field of its chaincfg parameters.
func netName(chainParams *chaincfg.Params) string {
	switch chainParams.Net {
	case wire.TestNet3:
		return "testnet"
	default:
		return chainParams.Name
	}
}

// loadConfig initializes and parses the config using command line options.
// The remaining arguments are the subcommand and its arguments.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		DataDir:    defaultDataDir,
		DbType:     defaultDbType,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
	}

	// Parse command line options.
	parser := flags.NewParser(&cfg, flags.Default)
	parser.Usage = "[OPTIONS] <command> [args...]\n\n" + commandsUsage()
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	if cfg.ShowVersion {
		fmt.Println("msutil version", version.String())
		os.Exit(0)
	}

	// Multiple networks can't be selected simultaneously.
	funcName := "loadConfig"
	numNets := 0
	// Count number of network flags passed; assign active network params
	// while we're at it
	if cfg.TestNet3 {
		numNets++
		activeNetParams = &chaincfg.TestNet3Params
	}
	if cfg.RegressionTest {
		numNets++
		activeNetParams = &chaincfg.RegressionNetParams
	}
	if cfg.SimNet {
		numNets++
		activeNetParams = &chaincfg.SimNetParams
	}
	if cfg.SigNet {
		numNets++
		activeNetParams = &chaincfg.SigNetParams
	}
	if numNets > 1 {
		str := "%s: The testnet, regtest, simnet and signet params " +
			"can't be used together -- choose one of the four"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Validate database type.
	if !validDbType(cfg.DbType) {
		str := "%s: The specified database type [%v] is invalid -- " +
			"supported types %v"
		err := fmt.Errorf(str, funcName, cfg.DbType, knownDbTypes)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Validate the log level.
	if _, ok := btclog.LevelFromString(cfg.DebugLevel); !ok {
		str := "%s: The specified debug level [%v] is invalid"
		err := fmt.Errorf(str, funcName, cfg.DebugLevel)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	if len(remainingArgs) == 0 {
		err := fmt.Errorf("%s: no command specified", funcName)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Namespace the data and log directories per network.
	cfg.DataDir = filepath.Join(cfg.DataDir, netName(activeNetParams))
	cfg.LogDir = filepath.Join(cfg.LogDir, netName(activeNetParams))

	return &cfg, remainingArgs, nil
}

// commandsUsage returns the help text listing the commands.
func commandsUsage() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range commandNames() {
		fmt.Fprintf(&b, "  %s %s\n", name, commands[name].usage)
	}
	return b.String()
}
