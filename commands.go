// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/internal/prompt"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wallet"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// runMode selects how much of the wallet context a command needs.
type runMode uint8

const (
	// runPure commands need neither a descriptor nor a backend.
	runPure runMode = iota

	// runOffline commands need the descriptor but no backend.
	runOffline

	// runOnline commands talk to the chain backend.
	runOnline
)

// operation is the body of a command.  Its result is written as JSON.
type operation func(ctx context.Context, walletCfg *wallet.Config) (
	interface{}, error)

// psbtArg is the positional PSBT argument shared by several commands.
type psbtArg struct {
	PSBT string `positional-arg-name:"psbt" description:"Base64 encoded PSBT"`
}

// newParser returns the command line parser for cfg with every command
// registered.
func newParser(cfg *config) *flags.Parser {
	// Errors are printed by walletMain so wallet errors can carry their
	// kind.
	parser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)

	commands := []struct {
		name, short, long string
		data              interface{}
	}{
		{
			"address", "Derive a deposit address",
			"Derive the deposit address at an index without " +
				"advancing any cursor.",
			&addressCommand{cfg: cfg},
		},
		{
			"estimatefee", "Estimate a fee rate",
			"Ask the backend for the fee rate, in sat/vB, that " +
				"confirms within the target number of blocks.",
			&estimateFeeCommand{cfg: cfg},
		},
		{
			"ratetoabsolute", "Convert a fee rate to a fee",
			"Convert a fee rate in sat/vB to the absolute fee of a " +
				"transaction of the given weight.",
			&rateToAbsoluteCommand{cfg: cfg},
		},
		{
			"absolutetorate", "Convert a fee to a fee rate",
			"Convert an absolute fee to the fee rate of a " +
				"transaction of the given weight.",
			&absoluteToRateCommand{cfg: cfg},
		},
		{
			"build", "Build an unsigned PSBT",
			"Sync the wallet and build an unsigned PSBT paying the " +
				"recipient, or sweeping every UTXO to it.",
			&buildCommand{cfg: cfg},
		},
		{
			"decode", "Decode a PSBT",
			"List the outputs of a PSBT and the fee paid to miners.",
			&decodeCommand{cfg: cfg},
		},
		{
			"weight", "Estimate the weight of a PSBT",
			"Estimate the weight of the transaction once every " +
				"input is satisfied.",
			&weightCommand{cfg: cfg},
		},
		{
			"sign", "Sign a PSBT",
			"Sign every input the descriptor holds private keys " +
				"for and finalize the inputs that become complete.",
			&signCommand{cfg: cfg},
		},
		{
			"broadcast", "Broadcast a PSBT",
			"Extract the transaction of a PSBT and submit it to " +
				"the backend.",
			&broadcastCommand{cfg: cfg},
		},
		{
			"policy", "Show the spending policy",
			"Show the spending policy tree of a keychain.  Node " +
				"ids are used to select branches when building.",
			&policyCommand{cfg: cfg},
		},
		{
			"raftpaths", "Show the raft policy paths",
			"Show the policy paths that select the primary and " +
				"the timelocked secondary branch of a two " +
				"branch descriptor.",
			&raftPathsCommand{cfg: cfg},
		},
	}

	for _, c := range commands {
		// AddCommand only fails for invalid struct tags.
		_, err := parser.AddCommand(c.name, c.short, c.long, c.data)
		if err != nil {
			panic(err)
		}
	}

	return parser
}

// run executes op in the context mode asks for and writes its result.
func (c *config) run(mode runMode, op operation) error {
	if err := c.initLogging(); err != nil {
		return err
	}

	var (
		walletCfg *wallet.Config
		err       error
	)
	switch mode {
	case runOffline, runOnline:
		walletCfg, err = c.walletConfig(mode == runOnline)
		if err != nil {
			return err
		}
	}

	ctx := context.Background()
	if mode == runOnline {
		var cancel context.CancelFunc
		ctx, cancel = interruptContext()
		defer cancel()
		defer walletCfg.Close()

		log.Debugf("Using %s backend", walletCfg.Client.BackEnd())
	}

	result, err := op(ctx, walletCfg)
	if err != nil {
		return err
	}

	return writeJSON(c.output(), result)
}

// output returns the writer command results go to.
func (c *config) output() io.Writer {
	if c.out != nil {
		return c.out
	}

	return os.Stdout
}

// writeJSON writes v as indented JSON followed by a newline.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// formatError renders a command failure for the terminal.  Wallet errors are
// prefixed with their kind.
func formatError(err error) string {
	var walletErr wallet.Error
	if errors.As(err, &walletErr) {
		return fmt.Sprintf("[%v] %v", walletErr.Kind, err)
	}

	return err.Error()
}

type addressCommand struct {
	Index uint32 `long:"index" description:"Derivation index on the deposit chain"`

	cfg *config `no-flag:"true"`
}

// Execute derives the address.
func (c *addressCommand) Execute(_ []string) error {
	return c.cfg.run(runOffline, func(_ context.Context,
		walletCfg *wallet.Config) (interface{}, error) {

		return wallet.GenerateAddress(walletCfg, c.Index)
	})
}

type estimateFeeCommand struct {
	Target uint32 `long:"target" default:"6" description:"Confirmation target in blocks"`

	cfg *config `no-flag:"true"`
}

// Execute asks the backend for a fee rate.
func (c *estimateFeeCommand) Execute(_ []string) error {
	return c.cfg.run(runOnline, func(ctx context.Context,
		walletCfg *wallet.Config) (interface{}, error) {

		return wallet.EstimateRate(ctx, walletCfg, c.Target)
	})
}

type rateToAbsoluteCommand struct {
	Rate   float64 `long:"rate" required:"true" description:"Fee rate in sat/vB"`
	Weight int     `long:"weight" required:"true" description:"Transaction weight in weight units"`

	cfg *config `no-flag:"true"`
}

// Execute converts the rate.
func (c *rateToAbsoluteCommand) Execute(_ []string) error {
	if c.Rate < 0 || c.Weight < 0 {
		return fmt.Errorf("rate and weight must not be negative")
	}

	return c.cfg.run(runPure, func(context.Context,
		*wallet.Config) (interface{}, error) {

		return wallet.RateToAbsolute(c.Rate, c.Weight), nil
	})
}

type absoluteToRateCommand struct {
	Absolute uint64 `long:"absolute" required:"true" description:"Absolute fee in satoshi"`
	Weight   int    `long:"weight" required:"true" description:"Transaction weight in weight units"`

	cfg *config `no-flag:"true"`
}

// Execute converts the absolute fee.
func (c *absoluteToRateCommand) Execute(_ []string) error {
	if c.Weight < 0 {
		return fmt.Errorf("weight must not be negative")
	}

	return c.cfg.run(runPure, func(context.Context,
		*wallet.Config) (interface{}, error) {

		return wallet.AbsoluteToRate(c.Absolute, c.Weight), nil
	})
}

type buildCommand struct {
	To          string              `long:"to" required:"true" description:"Recipient address"`
	Amount      *cfgutil.AmountFlag `long:"amount" description:"Amount to send in BTC, or in satoshi with a sat suffix"`
	Fee         uint64              `long:"fee" required:"true" description:"Absolute fee in satoshi"`
	Sweep       bool                `long:"sweep" description:"Send every UTXO to the recipient when no amount is given"`
	PolicyPaths string              `long:"policypaths" description:"Spending policy paths as JSON, eg. {\"external\":{\"<id>\":[0]},\"internal\":{\"<id>\":[0]}}"`
	Raft        string              `long:"raft" choice:"primary" choice:"secondary" description:"Select a branch of a two branch timelocked descriptor"`
	CoinSelect  string              `long:"coinselect" default:"largest" description:"Coin selection strategy {largest, random}"`

	cfg *config `no-flag:"true"`
}

// request assembles the build request without the policy paths.
func (c *buildCommand) request() (*wallet.BuildRequest, error) {
	strategy, ok := wallet.ParseCoinSelectionStrategy(c.CoinSelect)
	if !ok {
		return nil, fmt.Errorf("unknown coin selection strategy %q",
			c.CoinSelect)
	}
	if c.PolicyPaths != "" && c.Raft != "" {
		return nil, fmt.Errorf("--policypaths and --raft are " +
			"mutually exclusive")
	}

	req := &wallet.BuildRequest{
		To:          c.To,
		Amount:      fn.None[uint64](),
		FeeAbsolute: c.Fee,
		Sweep:       c.Sweep,
		Strategy:    strategy,
	}
	if c.Amount != nil {
		req.Amount = fn.Some(uint64(c.Amount.Amount))
	}

	if c.PolicyPaths != "" {
		var paths wallet.SpendingPolicyPaths
		dec := json.NewDecoder(strings.NewReader(c.PolicyPaths))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&paths); err != nil {
			return nil, fmt.Errorf("invalid policy paths: %w", err)
		}
		req.PolicyPaths = &paths
	}

	return req, nil
}

// Execute syncs the wallet and builds the PSBT.
func (c *buildCommand) Execute(_ []string) error {
	req, err := c.request()
	if err != nil {
		return err
	}

	return c.cfg.run(runOnline, func(ctx context.Context,
		walletCfg *wallet.Config) (interface{}, error) {

		if c.Raft != "" {
			paths, err := wallet.RaftPolicyPaths(walletCfg)
			if err != nil {
				return nil, err
			}
			req.PolicyPaths = &paths.Primary
			if c.Raft == "secondary" {
				req.PolicyPaths = &paths.Secondary
			}
		}

		return wallet.Build(ctx, walletCfg, req)
	})
}

type decodeCommand struct {
	Args psbtArg `positional-args:"yes" required:"yes"`

	cfg *config `no-flag:"true"`
}

// Execute decodes the PSBT for the descriptor's network.
func (c *decodeCommand) Execute(_ []string) error {
	return c.cfg.run(runOffline, func(_ context.Context,
		walletCfg *wallet.Config) (interface{}, error) {

		return wallet.Decode(walletCfg.Network, c.Args.PSBT)
	})
}

type weightCommand struct {
	Args psbtArg `positional-args:"yes" required:"yes"`

	cfg *config `no-flag:"true"`
}

// Execute estimates the satisfied weight of the PSBT.
func (c *weightCommand) Execute(_ []string) error {
	return c.cfg.run(runOffline, func(_ context.Context,
		walletCfg *wallet.Config) (interface{}, error) {

		return wallet.GetWeight(walletCfg.DepositDesc, c.Args.PSBT)
	})
}

type signCommand struct {
	Args psbtArg `positional-args:"yes" required:"yes"`

	cfg *config `no-flag:"true"`
}

// Execute signs the PSBT.
func (c *signCommand) Execute(_ []string) error {
	return c.cfg.run(runOffline, func(_ context.Context,
		walletCfg *wallet.Config) (interface{}, error) {

		return wallet.Sign(walletCfg, c.Args.PSBT)
	})
}

type broadcastCommand struct {
	Yes  bool    `short:"y" long:"yes" description:"Do not ask for confirmation on a terminal"`
	Args psbtArg `positional-args:"yes" required:"yes"`

	cfg *config `no-flag:"true"`
}

// confirm shows the outputs of the PSBT and asks whether to broadcast it.
func (c *broadcastCommand) confirm(walletCfg *wallet.Config) error {
	if c.Yes || !prompt.IsTerminal() {
		return nil
	}

	decoded, err := wallet.Decode(walletCfg.Network, c.Args.PSBT)
	if err != nil {
		return err
	}
	for _, out := range decoded.Outputs {
		fmt.Fprintf(os.Stderr, "%12d sat -> %s\n", out.Value, out.To)
	}

	ok, err := prompt.Confirm(
		bufio.NewReader(os.Stdin), "Broadcast transaction?", "no",
	)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("broadcast aborted")
	}

	return nil
}

// Execute submits the PSBT's transaction.
func (c *broadcastCommand) Execute(_ []string) error {
	return c.cfg.run(runOnline, func(ctx context.Context,
		walletCfg *wallet.Config) (interface{}, error) {

		if err := c.confirm(walletCfg); err != nil {
			return nil, err
		}

		return wallet.Broadcast(ctx, walletCfg, c.Args.PSBT)
	})
}

type policyCommand struct {
	Keychain string `long:"keychain" default:"external" choice:"external" choice:"internal" description:"Keychain whose policy is shown"`

	cfg *config `no-flag:"true"`
}

// Execute shows the policy tree.
func (c *policyCommand) Execute(_ []string) error {
	branch := waddrmgr.ExternalBranch
	if c.Keychain == "internal" {
		branch = waddrmgr.InternalBranch
	}

	return c.cfg.run(runOffline, func(_ context.Context,
		walletCfg *wallet.Config) (interface{}, error) {

		return wallet.SpendingPolicy(walletCfg, branch)
	})
}

type raftPathsCommand struct {
	cfg *config `no-flag:"true"`
}

// Execute shows the raft policy paths.
func (c *raftPathsCommand) Execute(_ []string) error {
	return c.cfg.run(runOffline, func(_ context.Context,
		walletCfg *wallet.Config) (interface{}, error) {

		return wallet.RaftPolicyPaths(walletCfg)
	})
}
