// Copyright (c) 2015-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
)

// FileExists reports whether the named file or directory exists.
func FileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CleanAndExpandPath expands environment variables and a leading ~ in the
// passed path, cleans the result, and returns it.  A bare ~ or ~/ expands
// to the home directory of the current user and ~name to the home
// directory of name.
func CleanAndExpandPath(path string) string {
	// os.ExpandEnv does not know the cmd.exe %VARIABLE% style, POSIX
	// $VARIABLE still works on Windows.
	path = os.ExpandEnv(path)
	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}
	path = path[1:]

	seps := string(os.PathSeparator)
	if runtime.GOOS == "windows" {
		seps += "/"
	}
	var name string
	if i := strings.IndexAny(path, seps); i != -1 {
		name, path = path[:i], path[i:]
	} else {
		name, path = path, ""
	}

	var u *user.User
	var err error
	if name == "" {
		u, err = user.Current()
	} else {
		u, err = user.Lookup(name)
	}
	home := "."
	if err == nil && u.HomeDir != "" {
		home = u.HomeDir
	}
	return filepath.Join(home, path)
}
