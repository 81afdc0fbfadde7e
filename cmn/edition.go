package cmn

import (
	"strconv"
	"strings"
)

// Edition is (epoch, version, release); comparison is rpm-vercmp per field
// (§3.1).
type Edition struct {
	Epoch   uint32
	Version string
	Release string
}

// Compare returns -1, 0, or 1 following rpm's version-comparison algorithm:
// epoch numerically, then version and release segment-wise, where each
// segment alternates between digit runs (compared numerically) and
// non-digit runs (compared lexically), and a trailing segment beats a
// missing one.
func (e Edition) Compare(o Edition) int {
	if e.Epoch != o.Epoch {
		if e.Epoch < o.Epoch {
			return -1
		}
		return 1
	}
	if c := rpmVerCmp(e.Version, o.Version); c != 0 {
		return c
	}
	return rpmVerCmp(e.Release, o.Release)
}

func rpmVerCmp(a, b string) int {
	ai, bi := 0, 0
	for ai < len(a) || bi < len(b) {
		for ai < len(a) && !isAlnum(a[ai]) {
			ai++
		}
		for bi < len(b) && !isAlnum(b[bi]) {
			bi++
		}
		if ai >= len(a) || bi >= len(b) {
			break
		}
		var aSeg, bSeg string
		aIsDigit := isDigit(a[ai])
		bIsDigit := bi < len(b) && isDigit(b[bi])
		if aIsDigit != bIsDigit {
			// a numeric segment always outranks an alpha segment (rpm rule)
			if aIsDigit {
				return 1
			}
			return -1
		}
		if aIsDigit {
			start := ai
			for ai < len(a) && isDigit(a[ai]) {
				ai++
			}
			aSeg = strings.TrimLeft(a[start:ai], "0")
			start = bi
			for bi < len(b) && isDigit(b[bi]) {
				bi++
			}
			bSeg = strings.TrimLeft(b[start:bi], "0")
			if len(aSeg) != len(bSeg) {
				if len(aSeg) > len(bSeg) {
					return 1
				}
				return -1
			}
		} else {
			start := ai
			for ai < len(a) && isAlpha(a[ai]) {
				ai++
			}
			aSeg = a[start:ai]
			start = bi
			for bi < len(b) && isAlpha(b[bi]) {
				bi++
			}
			bSeg = b[start:bi]
		}
		if c := strings.Compare(aSeg, bSeg); c != 0 {
			if c < 0 {
				return -1
			}
			return 1
		}
	}
	switch {
	case ai >= len(a) && bi >= len(b):
		return 0
	case ai >= len(a):
		return -1
	default:
		return 1
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isAlnum(c byte) bool { return isDigit(c) || isAlpha(c) }

func (e Edition) String() string {
	if e.Epoch == 0 {
		return e.Version + "-" + e.Release
	}
	return strconv.FormatUint(uint64(e.Epoch), 10) + ":" + e.Version + "-" + e.Release
}
