// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
)

func main() {
	// Work around defer not working after os.Exit.
	if err := walletMain(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func walletMain(args []string) error {
	defer closeLogRotator()

	// Load the config file and parse the command line, which runs the
	// selected command.
	_, parser, err := loadConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	_, err = parser.ParseArgs(args)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Fprintln(os.Stdout, err)
				return nil
			}
			fmt.Fprintln(os.Stderr, err)
			return err
		}

		log.Debugf("Command failed: %v", err)
		fmt.Fprintln(os.Stderr, formatError(err))
		return err
	}

	return nil
}
