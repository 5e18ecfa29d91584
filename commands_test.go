package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/stretchr/testify/require"
)

const (
	testTpub = "[db7d25b5/84'/1'/6']tpubDCCh4SuT3pSAQ1qAN86qKEzsLoBeiu" +
		"goGGQeibmieRUKv8z6fCTTmEXsb9yeueBkUWjGVzJr91bCzeCNShorbBqjZV4" +
		"WRGjz3CrJsCboXUe"

	testDepositDesc = "wpkh(" + testTpub + "/0/*)"

	// testPsbt spends 100000 satoshis from external index 1 of
	// testDepositDesc, paying 5000 to mkHS9ne12qx9pS9VojpwU5xtRd4T7X7ZUt
	// with a fee of 420.
	testPsbt = "cHNidP8BAHQBAAAAAf3cLERUN9+6X5+1yk3x9XzSCq1417WtB+gB5qNyj" +
		"+xpAAAAAAD9////AnRxAQAAAAAAFgAUVyorkNVSCsiE4/7OspP52IwquzqIEwA" +
		"AAAAAABl2qRQ0Sg9IyhUOwrkDgXZgubaLE6ZwJoisAAAAAAABAN4CAAAAAAEBy" +
		"vn9X3PvFqemGsrTv8ivAO07IOeRhBz7J0huqXJLfVgBAAAAAP7///8CoIYBAAA" +
		"AAAAWABQTXAMs/1Qr5n6pDVK9O15ODZ/UCVZWjQAAAAAAFgAUIixaISTPlO8fw" +
		"yT3hCL+An5+Km4CRzBEAiBFsQJfBur3eQgO5Vw+EvEgr2CagcVGXw9oYw3FOaM" +
		"SSgIgch0CV+W3oRCKNBwxqiqIK0C5b1TsGk32HvNM+4Z7IksBIQNP/rsBHKbA9" +
		"8977TzmriFrOuO8hQjNg4ON3goI9/Uwjp0BIAABAR+ghgEAAAAAABYAFBNcAyz" +
		"/VCvmfqkNUr07Xk4Nn9QJIgYD9WhlKKSeNh6567KTmyKrlitDWZOz/+mms7emV" +
		"sWjGTsY230ltVQAAIABAACABgAAgAAAAAABAAAAACICAgHPrE7CShQkK90ApPF" +
		"8xdr+8o7T/sHggOlZNOHIUft/GNt9JbVUAACAAQAAgAYAAIABAAAAAQAAAAAA"
)

// writeConfig writes a config file disabling the log file plus the given
// option lines and returns its path.
func writeConfig(t *testing.T, lines ...string) string {
	t.Helper()

	content := "[Application Options]\nnologfile=1\n" +
		strings.Join(lines, "\n") + "\n"
	path := filepath.Join(t.TempDir(), defaultConfigFilename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	return path
}

// runCommand parses args with the config file at confPath and returns what
// the command wrote.
func runCommand(t *testing.T, confPath string, args ...string) (string,
	error) {

	t.Helper()

	args = append([]string{"-C", confPath}, args...)
	cfg, parser, err := loadConfig(args)
	if err != nil {
		return "", err
	}

	var out bytes.Buffer
	cfg.out = &out
	_, err = parser.ParseArgs(args)

	return out.String(), err
}

// TestOfflineCommands checks the commands that need no backend.
func TestOfflineCommands(t *testing.T) {
	t.Parallel()

	descOpt := "--descriptor=" + testDepositDesc

	testCases := []struct {
		name     string
		args     []string
		expected string
	}{
		{
			name:     "rate to absolute",
			args:     []string{"ratetoabsolute", "--rate", "2.1", "--weight", "250"},
			expected: `{"rate":2.1,"absolute":133}`,
		},
		{
			name:     "absolute to rate",
			args:     []string{"absolutetorate", "--absolute", "630", "--weight", "560"},
			expected: `{"rate":4.5,"absolute":630}`,
		},
		{
			name:     "address",
			args:     []string{descOpt, "address", "--index", "0"},
			expected: `{"address":"tb1q093gl5yxww0hlvlkajdmf8wh3a6rlvsdk9e6d3"}`,
		},
		{
			name: "decode",
			args: []string{descOpt, "decode", testPsbt},
			expected: `{"outputs":[` +
				`{"value":94580,"to":"tb1q2u4zhyx42g9v3p8rlm8t9ylemzxz4we6glds8q"},` +
				`{"value":5000,"to":"mkHS9ne12qx9pS9VojpwU5xtRd4T7X7ZUt"},` +
				`{"value":420,"to":"miner"}]}`,
		},
		{
			name:     "weight",
			args:     []string{descOpt, "weight", testPsbt},
			expected: `{"weight":576}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out, err := runCommand(t, writeConfig(t), tc.args...)
			require.NoError(t, err)
			require.JSONEq(t, tc.expected, out)
		})
	}
}

// TestConfigFileOptions checks options are read from the config file and
// overridden by the command line.
func TestConfigFileOptions(t *testing.T) {
	t.Parallel()

	conf := writeConfig(t, "descriptor="+testDepositDesc)

	out, err := runCommand(t, conf, "address", "--index", "0")
	require.NoError(t, err)
	require.JSONEq(t,
		`{"address":"tb1q093gl5yxww0hlvlkajdmf8wh3a6rlvsdk9e6d3"}`, out)

	// An explicitly requested config file must exist.
	_, err = runCommand(t, filepath.Join(t.TempDir(), "missing.conf"),
		"address")
	require.Error(t, err)
}

// TestCommandErrors checks option validation and wallet failures.
func TestCommandErrors(t *testing.T) {
	t.Parallel()

	descOpt := "--descriptor=" + testDepositDesc

	testCases := []struct {
		name string
		args []string
		msg  string
	}{
		{
			name: "bad debug level",
			args: []string{"-d", "loud", "ratetoabsolute", "--rate",
				"1", "--weight", "4"},
			msg: "the specified debug level [loud] is invalid",
		},
		{
			name: "unknown subsystem",
			args: []string{"-d", "NOPE=info", "ratetoabsolute",
				"--rate", "1", "--weight", "4"},
			msg: "the specified subsystem [NOPE] is invalid",
		},
		{
			name: "negative weight",
			args: []string{"absolutetorate", "--absolute", "1",
				"--weight=-4"},
			msg: "weight must not be negative",
		},
		{
			name: "rpcconnect with esplora",
			args: []string{descOpt, "--rpcconnect", "localhost",
				"estimatefee"},
			msg: "--rpcconnect requires the bitcoind backend",
		},
		{
			name: "esplora with bitcoind",
			args: []string{descOpt, "--backend", "bitcoind",
				"--esplora", "default", "estimatefee"},
			msg: "--esplora requires the esplora backend",
		},
		{
			name: "zero stop gap",
			args: []string{descOpt, "--stopgap", "0", "estimatefee"},
			msg:  "--stopgap must be positive",
		},
		{
			name: "bad psbt",
			args: []string{descOpt, "decode", "***"},
			msg:  wallet.DescBase64Decode,
		},
		{
			name: "policy paths and raft",
			args: []string{descOpt, "build", "--to", "x", "--fee",
				"1", "--raft", "primary", "--policypaths", "{}"},
			msg: "mutually exclusive",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out, err := runCommand(t, writeConfig(t), tc.args...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.msg)
			require.Empty(t, out)
		})
	}
}

// TestBuildRequest checks the build options are turned into a request.
func TestBuildRequest(t *testing.T) {
	t.Parallel()

	cmd := &buildCommand{
		To:         "mkHS9ne12qx9pS9VojpwU5xtRd4T7X7ZUt",
		Fee:        420,
		CoinSelect: "random",
		PolicyPaths: `{"external":{"0a1b2c3d":[1]},` +
			`"internal":{"4e5f6a7b":[1]}}`,
	}
	req, err := cmd.request()
	require.NoError(t, err)
	require.True(t, req.Amount.IsNone())
	require.Equal(t, uint64(420), req.FeeAbsolute)
	require.Equal(t, wallet.CoinSelectionRandom, req.Strategy)
	require.Equal(t, &wallet.SpendingPolicyPaths{
		External: wallet.SpendingPolicyPath{"0a1b2c3d": {1}},
		Internal: wallet.SpendingPolicyPath{"4e5f6a7b": {1}},
	}, req.PolicyPaths)

	amount := &buildCommand{CoinSelect: "largest"}
	amount.Amount = cfgutil.NewAmountFlag(5000)
	req, err = amount.request()
	require.NoError(t, err)
	require.Equal(t, uint64(5000), req.Amount.UnwrapOr(0))
	require.Nil(t, req.PolicyPaths)

	_, err = (&buildCommand{CoinSelect: "smallest"}).request()
	require.Error(t, err)

	_, err = (&buildCommand{
		CoinSelect:  "largest",
		PolicyPaths: `{"external":{},"unknown":{}}`,
	}).request()
	require.ErrorContains(t, err, "invalid policy paths")
}

// TestFormatError checks wallet errors are prefixed with their kind.
func TestFormatError(t *testing.T) {
	t.Parallel()

	_, err := wallet.Decode(nil, "***")
	require.Error(t, err)
	require.True(t, strings.HasPrefix(formatError(err), "[Internal] "+
		wallet.DescBase64Decode))

	require.Equal(t, "plain", formatError(errors.New("plain")))
}
