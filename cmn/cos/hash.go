package cos

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"

	"github.com/openSUSE/libzypp-sub001/cmn"
)

// NewDigest returns a stdlib hash.Hash for one of the six algorithms listed
// in §3.1. sha224/sha384 reuse the sha256/sha512 families' constructors.
func NewDigest(algo cmn.ChecksumAlgo) (hash.Hash, error) {
	switch algo {
	case cmn.ChecksumMD5:
		return md5.New(), nil
	case cmn.ChecksumSHA1:
		return sha1.New(), nil
	case cmn.ChecksumSHA224:
		return sha256.New224(), nil
	case cmn.ChecksumSHA256:
		return sha256.New(), nil
	case cmn.ChecksumSHA384:
		return sha512.New384(), nil
	case cmn.ChecksumSHA512:
		return sha512.New(), nil
	default:
		return nil, cmn.NewErr(cmn.KindInvalidInput, 0, "unsupported checksum algorithm %q", algo)
	}
}

// ChecksumReader computes algo's digest over r and returns it as a
// cmn.Checksum.
func ChecksumReader(r io.Reader, algo cmn.ChecksumAlgo) (cmn.Checksum, error) {
	h, err := NewDigest(algo)
	if err != nil {
		return cmn.Checksum{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return cmn.Checksum{}, err
	}
	return cmn.NewChecksum(algo, hex.EncodeToString(h.Sum(nil))), nil
}
