// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// msutil decodes, encodes and verifies miniscripts and output descriptors
// and keeps a database of descriptors indexed by their scripts.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	mslog "github.com/btcsuite/miniscript/internal/log"
)

var (
	cfg *config
	log btclog.Logger = btclog.Disabled
)

// realMain is the real main function for the utility.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is called.
func realMain() error {
	// Load configuration and parse command line.
	tcfg, args, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg

	// Setup logging.
	err = mslog.InitLogRotator(filepath.Join(cfg.LogDir, defaultLogFile))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer mslog.LogRotator.Close()
	defer os.Stdout.Sync()
	mslog.SetLogLevels(cfg.DebugLevel)
	log = mslog.MainLog

	cmd, ok := commands[args[0]]
	if !ok {
		err := fmt.Errorf("unknown command %q", args[0])
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, commandsUsage())
		return err
	}
	if len(args)-1 < cmd.minArgs {
		err := fmt.Errorf("usage: %s %s", args[0], cmd.usage)
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	log.Debugf("Running %s on %s", args[0], activeNetParams.Name)
	if err := cmd.run(cfg, args[1:], os.Stdout); err != nil {
		log.Errorf("%s: %v", args[0], err)
		return err
	}
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := realMain(); err != nil {
		os.Exit(1)
	}
}
