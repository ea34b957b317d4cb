// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// EnsureWritableDir creates folder if needed and checks that it is a
// directory the current user may write to.
func EnsureWritableDir(folder string) error {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return err
	}
	info, err := os.Stat(folder)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", folder, os.ErrInvalid)
	}

	permission := info.Mode().Perm()
	if permission&0200 != 0 {
		return nil
	}

	return fmt.Errorf("%s: %w", folder, os.ErrPermission)
}

// WriteFileAtomic writes data to a temporary sibling of path, flushes it with
// Fdatasync and renames it into place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := Fdatasync(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func ResolvePath(path string) string {
	if !strings.Contains(path, "~") {
		return path
	}

	if path == "~" {
		if usr, err := user.Current(); err == nil {
			path = usr.HomeDir
		}
	} else if strings.HasPrefix(path, "~/") {
		if usr, err := user.Current(); err == nil {
			path = filepath.Join(usr.HomeDir, path[2:])
		}
	}

	path = os.ExpandEnv(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}

	return path
}
