// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/miniscript/descdb"
	"github.com/btcsuite/miniscript/descriptor"
	"github.com/btcsuite/miniscript/interpreter"
	"github.com/btcsuite/miniscript/miniscript"
)

// descDbNamePrefix is the prefix for the descriptor database directory.
const descDbNamePrefix = "descriptors"

// command is a msutil subcommand.
type command struct {
	usage   string
	minArgs int
	run     func(cfg *config, args []string, w io.Writer) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"decode": {"<script-hex>", 1, cmdDecode},
		"parse":  {"<miniscript>", 1, cmdParse},
		"desc":   {"<descriptor>", 1, cmdDesc},
		"verify": {"<spk-hex> <scriptsig-hex> [witness-hex...]", 2, cmdVerify},
		"import": {"<descriptor>", 1, cmdImport},
		"lookup": {"<spk-hex>", 1, cmdLookup},
		"list":   {"", 0, cmdList},
	}
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (cfg *config) scriptContext() miniscript.ScriptContext {
	if cfg.Legacy {
		return miniscript.Legacy
	}
	return miniscript.SegwitV0
}

func decodeHex(what, s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s hex: %w", what, err)
	}
	return b, nil
}

// cmdDecode decodes a script into a miniscript.
func cmdDecode(cfg *config, args []string, w io.Writer) error {
	script, err := decodeHex("script", args[0])
	if err != nil {
		return err
	}
	ast, err := miniscript.Decode(script, cfg.scriptContext())
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "miniscript: %s\n", ast)
	fmt.Fprintf(w, "type:       %s\n", ast.Type())
	fmt.Fprintf(w, "context:    %v\n", ast.Context())
	fmt.Fprintf(w, "tree:\n%s", ast.DrawTree())
	return nil
}

// cmdParse parses a miniscript with hex keys and prints its script.
func cmdParse(cfg *config, args []string, w io.Writer) error {
	ast, err := miniscript.ParseWithContext(args[0], cfg.scriptContext())
	if err != nil {
		return err
	}
	if err := ast.ApplyVars(nil); err != nil {
		return err
	}
	script, err := ast.Script()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "script:     %x\n", script)
	fmt.Fprintf(w, "asm:        %s\n", ast.ScriptASM())
	fmt.Fprintf(w, "type:       %s\n", ast.Type())
	fmt.Fprintf(w, "size:       %d\n", ast.ScriptSize())
	fmt.Fprintf(w, "ops:        %d\n", ast.MaxOpCount())
	if size, ok := ast.MaxSatisfactionSize(); ok {
		fmt.Fprintf(w, "max sat:    %d\n", size)
	} else {
		fmt.Fprintf(w, "max sat:    unsatisfiable\n")
	}
	if err := ast.IsSane(); err != nil {
		fmt.Fprintf(w, "sane:       no (%v)\n", err)
	} else {
		fmt.Fprintf(w, "sane:       yes\n")
	}
	return nil
}

// parseDescriptor parses a descriptor with hex keys.
func parseDescriptor(desc string) (descriptor.Descriptor, error) {
	d, err := descriptor.Parse(desc)
	if err != nil {
		return nil, err
	}
	if err := d.ApplyVars(nil); err != nil {
		return nil, err
	}
	return d, nil
}

// cmdDesc prints the scripts, address and weight of a descriptor.
func cmdDesc(cfg *config, args []string, w io.Writer) error {
	d, err := parseDescriptor(args[0])
	if err != nil {
		return err
	}
	desc, err := descriptor.WithChecksum(d.String())
	if err != nil {
		return err
	}
	addr, err := d.Address(activeNetParams)
	if err != nil {
		return err
	}
	spk, err := d.ScriptPubKey()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "descriptor:     %s\n", desc)
	fmt.Fprintf(w, "address:        %s\n", addr.EncodeAddress())
	fmt.Fprintf(w, "scriptPubKey:   %x\n", spk)

	witnessScript, err := d.WitnessScript()
	switch {
	case errors.Is(err, descriptor.ErrNoWitnessScript):
	case err != nil:
		return err
	default:
		fmt.Fprintf(w, "witnessScript:  %x\n", witnessScript)
	}

	weight, err := d.MaxSatisfactionWeight()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "max weight:     %d\n", weight)

	p, err := d.Lift()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "policy:         %s\n", p)

	if err := d.SanityCheck(); err != nil {
		fmt.Fprintf(w, "sane:           no (%v)\n", err)
	} else {
		fmt.Fprintf(w, "sane:           yes\n")
	}
	return nil
}

// isWitnessSpend reports whether signatures of the spend commit with the
// segwit v0 sighash.
func isWitnessSpend(kind interpreter.SpendKind) bool {
	switch kind {
	case interpreter.SpendP2WPKH, interpreter.SpendP2WSH,
		interpreter.SpendP2SHWPKH, interpreter.SpendP2SHWSH:

		return true
	}
	return false
}

// sigChecker returns the signature check of the verify command.
func sigChecker(cfg *config, tx *wire.MsgTx, spk []byte,
	interp *interpreter.Interpreter) (interpreter.VerifyFunc, error) {

	if cfg.NoSigCheck {
		return func(*btcec.PublicKey, interpreter.Signature) bool {
			return true
		}, nil
	}
	if tx == nil {
		return nil, errors.New("checking signatures needs --tx " +
			"(or --nosigcheck)")
	}

	scriptCode, err := interp.Miniscript().Script()
	if err != nil {
		return nil, err
	}
	idx := int(cfg.Input)
	witness := isWitnessSpend(interp.Kind())
	fetcher := txscript.NewCannedPrevOutputFetcher(spk, cfg.Amount)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	return func(pubKey *btcec.PublicKey, sig interpreter.Signature) bool {
		var (
			hash []byte
			err  error
		)
		if witness {
			hash, err = txscript.CalcWitnessSigHash(scriptCode,
				sigHashes, sig.HashType, tx, idx, cfg.Amount)
		} else {
			hash, err = txscript.CalcSignatureHash(scriptCode,
				sig.HashType, tx, idx)
		}
		if err != nil {
			log.Debugf("Signature hash: %v", err)
			return false
		}
		return sig.Sig.Verify(hash, pubKey)
	}, nil
}

// cmdVerify runs the interpreter on a spend and prints its constraints.
func cmdVerify(cfg *config, args []string, w io.Writer) error {
	spk, err := decodeHex("scriptPubKey", args[0])
	if err != nil {
		return err
	}
	scriptSig, err := decodeHex("scriptSig", args[1])
	if err != nil {
		return err
	}
	var witness wire.TxWitness
	for _, arg := range args[2:] {
		item, err := decodeHex("witness", arg)
		if err != nil {
			return err
		}
		witness = append(witness, item)
	}

	var (
		tx      *wire.MsgTx
		iconfig interpreter.Config
	)
	if cfg.Tx != "" {
		rawTx, err := decodeHex("transaction", cfg.Tx)
		if err != nil {
			return err
		}
		tx = new(wire.MsgTx)
		if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
			return fmt.Errorf("invalid transaction: %w", err)
		}
		if int(cfg.Input) >= len(tx.TxIn) {
			return fmt.Errorf("input %d out of range, transaction "+
				"has %d inputs", cfg.Input, len(tx.TxIn))
		}
		iconfig.LockTime = tx.LockTime
		iconfig.Age = tx.TxIn[cfg.Input].Sequence
	}

	interp, err := interpreter.New(spk, scriptSig, witness, iconfig)
	if err != nil {
		return err
	}
	verify, err := sigChecker(cfg, tx, spk, interp)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "spend:      %v\n", interp.Kind())
	fmt.Fprintf(w, "miniscript: %s\n", interp.Miniscript())

	iter := interp.Iter(verify)
	for iter.Next() {
		fmt.Fprintf(w, "  %v\n", iter.Constraint())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	fmt.Fprintln(w, "result:     satisfied")
	return nil
}

func openStore(cfg *config) (*descdb.Store, error) {
	dbPath := filepath.Join(cfg.DataDir, descDbNamePrefix+"_"+cfg.DbType)
	log.Infof("Loading descriptor database from '%s'", dbPath)
	return descdb.Open(cfg.DbType, dbPath)
}

// cmdImport stores a descriptor under its scriptPubKey.
func cmdImport(cfg *config, args []string, w io.Writer) error {
	d, err := parseDescriptor(args[0])
	if err != nil {
		return err
	}
	if err := d.SanityCheck(); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	spk, err := store.Put(d)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%x\n", spk)
	return nil
}

// cmdLookup prints the descriptor stored for a scriptPubKey.
func cmdLookup(cfg *config, args []string, w io.Writer) error {
	spk, err := decodeHex("scriptPubKey", args[0])
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	desc, err := store.Lookup(spk)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, desc)
	return nil
}

// cmdList prints every stored descriptor.
func cmdList(cfg *config, _ []string, w io.Writer) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.ForEach(func(spk []byte, desc string) error {
		_, err := fmt.Fprintf(w, "%x %s\n", spk, desc)
		return err
	})
}
