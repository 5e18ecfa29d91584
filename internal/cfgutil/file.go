// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"os"
)

// FileExists reports whether a regular file exists at filePath.  A missing
// path is not an error, a directory in place of the file is.
func FileExists(filePath string) (bool, error) {
	info, err := os.Stat(filePath)
	switch {
	case os.IsNotExist(err):
		return false, nil

	case err != nil:
		return false, err

	case info.IsDir():
		return false, fmt.Errorf("%s is a directory", filePath)
	}

	return true, nil
}
