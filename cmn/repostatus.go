package cmn

import "time"

// RepoStatus is the tuple (content-fingerprint, mtime) used to decide
// whether cached data is still valid (§3.1, glossary). An empty fingerprint
// means "unknown/absent."
type RepoStatus struct {
	Fingerprint string
	Mtime       time.Time
}

func (s RepoStatus) Empty() bool { return s.Fingerprint == "" }

// Equal reports status equality "iff their fingerprints match" (§3.1).
func (s RepoStatus) Equal(o RepoStatus) bool {
	return s.Fingerprint != "" && s.Fingerprint == o.Fingerprint
}
