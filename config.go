// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/build"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/internal/prompt"
	"github.com/btcsuite/descwallet/wallet"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "descwallet.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "descwallet.log"
	defaultBackend        = "esplora"
	defaultTimeout        = 5 * time.Second
	defaultStopGap        = 20
	defaultSyncWorkers    = 4
)

var (
	descwalletHomeDir = btcutil.AppDataDir("descwallet", false)
	defaultConfigFile = filepath.Join(descwalletHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(descwalletHomeDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	DebugLevel string                  `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical, off} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	LogDir     string                  `long:"logdir" description:"Directory to log output"`
	NoLogFile  bool                    `long:"nologfile" description:"Only log to stderr"`

	// Wallet options
	Descriptor string `long:"descriptor" description:"Deposit descriptor of the wallet, the change descriptor is derived from it -- Read from stdin when omitted"`

	// Backend options
	Backend     string                  `long:"backend" description:"Chain backend {esplora, bitcoind}"`
	Esplora     *cfgutil.ExplicitString `long:"esplora" description:"Esplora API URL, or 'default' for the network's public instance"`
	RPCConnect  string                  `long:"rpcconnect" description:"Hostname[:port] or URL of the bitcoind RPC server"`
	RPCUser     string                  `long:"rpcuser" description:"bitcoind RPC username"`
	RPCPass     string                  `long:"rpcpass" default-mask:"-" description:"bitcoind RPC password"`
	Proxy       string                  `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	Timeout     time.Duration           `long:"timeout" description:"Timeout of a single backend request"`
	StopGap     uint32                  `long:"stopgap" description:"Number of consecutive unused addresses after which a keychain scan stops"`
	SyncWorkers int                     `long:"syncworkers" description:"Number of concurrent Esplora script scans"`
	RateLimit   int                     `long:"ratelimit" description:"Maximum Esplora requests per second, 0 for no limit"`

	// out receives command results, stdout when nil.
	out io.Writer `no-flag:"true"`
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(descwalletHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		fallthrough
	case "off":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// defaultConfig returns the configuration used before any file or command
// line option is applied.
func defaultConfig() config {
	return config{
		ConfigFile:  cfgutil.NewExplicitString(defaultConfigFile),
		DebugLevel:  build.LogLevel,
		LogDir:      defaultLogDir,
		Backend:     defaultBackend,
		Esplora:     cfgutil.NewExplicitString(wallet.DefaultNodeAddress),
		Timeout:     defaultTimeout,
		StopGap:     defaultStopGap,
		SyncWorkers: defaultSyncWorkers,
	}
}

// loadConfig initializes the config using a config file and prepares the
// command line parser.  Parsing the command line with the returned parser
// overwrites the file's options and runs the selected command.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//
// Command line options always take precedence.
func loadConfig(args []string) (*config, *flags.Parser, error) {
	cfg := defaultConfig()

	// A config file in the current directory takes precedence.
	exists, err := cfgutil.FileExists(defaultConfigFilename)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		cfg.ConfigFile = cfgutil.NewExplicitString(defaultConfigFilename)
	}

	// Pre-parse the command line options to see if an alternative config
	// file was specified.  Commands are unknown to this parser and left for
	// the final parse.
	preCfg := defaultConfig()
	preCfg.ConfigFile = cfgutil.NewExplicitString(cfg.ConfigFile.Value)
	preParser := flags.NewParser(
		&preCfg, flags.HelpFlag|flags.PassDoubleDash|flags.IgnoreUnknown,
	)
	_, err = preParser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			// The final parse prints help including the commands.
			err = nil
		} else {
			return nil, nil, err
		}
	}

	parser := newParser(&cfg)

	// A missing default config file is fine, an explicitly requested one
	// must exist.
	configFile := cleanAndExpandPath(preCfg.ConfigFile.Value)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok ||
			preCfg.ConfigFile.ExplicitlySet() {

			return nil, nil, err
		}
	}

	return &cfg, parser, nil
}

// initLogging validates the logging options and starts logging to the log
// file.  It runs once the command line has been parsed.
func (c *config) initLogging() error {
	// Special show command to list supported subsystems and exit.
	if c.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	if !c.NoLogFile {
		c.LogDir = cleanAndExpandPath(c.LogDir)
		err := initLogRotator(filepath.Join(c.LogDir, defaultLogFilename))
		if err != nil {
			return err
		}
	}

	return parseAndSetDebugLevels(c.DebugLevel)
}

// depositDescriptor returns the configured descriptor, reading it from stdin
// when no --descriptor option was given.
func (c *config) depositDescriptor() (string, error) {
	if c.Descriptor != "" {
		return c.Descriptor, nil
	}

	desc, err := prompt.Secret(bufio.NewReader(os.Stdin), "Descriptor")
	if err != nil {
		return "", err
	}
	c.Descriptor = desc

	return desc, nil
}

// backendConfig returns the chain backend options.  The node address is the
// Esplora URL or the bitcoind address depending on the selected backend.
func (c *config) backendConfig() (*wallet.BackendConfig, error) {
	backend := &wallet.BackendConfig{
		BackEnd:     c.Backend,
		RPCUser:     c.RPCUser,
		RPCPass:     c.RPCPass,
		Proxy:       c.Proxy,
		Timeout:     c.Timeout,
		StopGap:     c.StopGap,
		SyncWorkers: c.SyncWorkers,
		RateLimit:   c.RateLimit,
	}

	switch c.Backend {
	case "esplora":
		if c.RPCConnect != "" {
			return nil, fmt.Errorf("--rpcconnect requires the " +
				"bitcoind backend")
		}
		backend.NodeAddress = c.Esplora.Value

	case "bitcoind":
		if c.Esplora.ExplicitlySet() {
			return nil, fmt.Errorf("--esplora requires the " +
				"esplora backend")
		}
		backend.NodeAddress = c.RPCConnect

	default:
		return nil, fmt.Errorf("unknown backend %q, expected one of %v",
			c.Backend, chain.BackEnds())
	}

	if c.StopGap == 0 {
		return nil, fmt.Errorf("--stopgap must be positive")
	}
	if c.SyncWorkers <= 0 {
		return nil, fmt.Errorf("--syncworkers must be positive")
	}
	if c.RateLimit < 0 {
		return nil, fmt.Errorf("--ratelimit must not be negative")
	}

	return backend, nil
}

// walletConfig builds the wallet context of a command.  Offline commands pass
// online false and get a configuration without a chain backend.
func (c *config) walletConfig(online bool) (*wallet.Config, error) {
	desc, err := c.depositDescriptor()
	if err != nil {
		return nil, err
	}

	if !online {
		return wallet.NewConfig(desc, nil)
	}

	backend, err := c.backendConfig()
	if err != nil {
		return nil, err
	}

	return wallet.NewConfig(desc, backend)
}
