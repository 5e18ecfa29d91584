// Copyright (c) 2015-2021 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prompt

import (
	"bufio"
	"fmt"
)

func IsTerminal() bool {
	return false
}

func Secret(_ *bufio.Reader, _ string) (string, error) {
	return "", fmt.Errorf("prompt not supported in WebAssembly")
}

func Confirm(_ *bufio.Reader, _ string, _ string) (bool, error) {
	return false, fmt.Errorf("prompt not supported in WebAssembly")
}
