package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/cmn/cos"
)

// verifyBlock reports whether data matches the block's expected digest. A
// block carrying no digest (plain byte-range metalink with no per-piece
// hash) is always accepted; only the final whole-file digest then guards
// correctness (§4.4.8).
func verifyBlock(b Block, data []byte) bool {
	if b.Checksum == "" {
		return true
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == b.Checksum
}

// VerifyWholeFile recomputes the destination file's SHA-256 digest and
// compares it against expected (§4.4.8). An empty expected digest means the
// source carried none, so nothing is checked.
func VerifyWholeFile(path, expected string) error {
	if expected == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sum, err := cos.ChecksumReader(f, cmn.ChecksumSHA256)
	if err != nil {
		return err
	}
	if !strings.EqualFold(sum.Digest, expected) {
		return cmn.NewErr(cmn.KindIntegrity, 0, "whole-file digest mismatch: got %s want %s", sum.Digest, expected)
	}
	return nil
}
