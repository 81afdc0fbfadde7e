// Package cos (common OS helpers) groups small filesystem and hashing
// utilities shared by the repository manager, provider scheduler, and fetch
// engine -- grounded on the teacher's cmn/cos usage patterns (cos.CreateFile,
// cos.FlushClose, cos.GenTie) seen throughout cmn/jsp.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
)

// GenTie returns a short random suffix used to make temp-file names unique,
// matching the <target>.new.zypp.XXXXXX pattern of §5 ("Shared-resource
// policy").
func GenTie() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// TempName builds the canonical staging name for target.
func TempName(target string) string {
	return target + ".new.zypp." + GenTie()
}

func CreateFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

func FlushClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func Close(f *os.File) {
	_ = f.Close()
}

func RemoveFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// CommitRename atomically replaces dst with src via a single os.Rename, for
// file targets; it fails when dst is a non-empty directory (see
// CommitRenameDir for that case).
func CommitRename(src, dst string) error {
	return os.Rename(src, dst)
}

// CommitRenameDir replaces the directory at dst with src, used where dst may
// already exist and be non-empty (os.Rename alone fails with ENOTEMPTY on
// Linux when replacing a non-empty directory). dst is first moved aside,
// src is renamed into its place, and the aside copy is removed once the
// swap lands; a failure on the second rename restores dst from the aside
// copy so a half-finished swap never leaves dst missing.
func CommitRenameDir(src, dst string) error {
	if !Exists(dst) {
		return os.Rename(src, dst)
	}
	aside := dst + ".old.zypp." + GenTie()
	if err := os.Rename(dst, aside); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		_ = os.Rename(aside, dst)
		return err
	}
	return os.RemoveAll(aside)
}

// IsDir reports whether path exists and is a directory, used by the probe
// logic of §4.5 ("dir scheme ... local path is not a directory").
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
