package cmn

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// SchemeClass partitions URL schemes per §3.1.
type SchemeClass uint8

const (
	SchemeDownloading SchemeClass = iota
	SchemeMountable
	SchemeVolatileMountable
	SchemePlugin
	SchemeUnknown
)

var schemeClasses = map[string]SchemeClass{
	"http":  SchemeDownloading,
	"https": SchemeDownloading,
	"ftp":   SchemeDownloading,
	"tftp":  SchemeDownloading,
	"s3":    SchemeDownloading,
	"gs":    SchemeDownloading,
	"azure": SchemeDownloading,

	"nfs":  SchemeMountable,
	"smb":  SchemeMountable,
	"cifs": SchemeMountable,
	"iso":  SchemeMountable,
	"dir":  SchemeMountable,
	"hdfs": SchemeMountable,

	"cd":   SchemeVolatileMountable,
	"dvd":  SchemeVolatileMountable,
	"disc": SchemeVolatileMountable,

	"plugin": SchemePlugin,
}

// ClassOf resolves the scheme of u, after applying the scheme-alias map
// (§4.3.1: https->http, cifs->smb, cd->disc, file->dir).
func ClassOf(scheme string, aliases map[string]string) SchemeClass {
	s := EffectiveScheme(scheme, aliases)
	if c, ok := schemeClasses[s]; ok {
		return c
	}
	return SchemeUnknown
}

// EffectiveScheme collapses related schemes per the configurable alias map.
func EffectiveScheme(scheme string, aliases map[string]string) string {
	s := strings.ToLower(scheme)
	if aliases == nil {
		return s
	}
	if eff, ok := aliases[s]; ok {
		return eff
	}
	return s
}

// DefaultSchemeAliases is the out-of-the-box alias table named in §4.3.1.
func DefaultSchemeAliases() map[string]string {
	return map[string]string{
		"https": "http",
		"cifs":  "smb",
		"cd":    "disc",
		"dvd":   "disc",
		"file":  "dir",
	}
}

// MirroredOrigin is an ordered non-empty list of URLs; index 0 is the
// authority URL, the rest are equivalent mirrors (§3.2 glossary).
type MirroredOrigin struct {
	urls []string
}

func NewMirroredOrigin(authority string, mirrors ...string) (*MirroredOrigin, error) {
	if authority == "" {
		return nil, NewErr(KindInvalidInput, 0, "origin requires a non-empty authority URL")
	}
	return &MirroredOrigin{urls: append([]string{authority}, mirrors...)}, nil
}

func (o *MirroredOrigin) Authority() string {
	if o == nil || len(o.urls) == 0 {
		return ""
	}
	return o.urls[0]
}

func (o *MirroredOrigin) URLs() []string {
	if o == nil {
		return nil
	}
	return o.urls
}

func (o *MirroredOrigin) Empty() bool { return o == nil || len(o.urls) == 0 }

// SortedKey returns a stable key for the underlying URL set, used by the
// attach cache (§4.3.5: "keyed by (sorted URL set, media-spec content-id)").
func (o *MirroredOrigin) SortedKey() string {
	if o == nil {
		return ""
	}
	cp := append([]string(nil), o.urls...)
	sort.Strings(cp)
	return strings.Join(cp, "\x00")
}

// ParseScheme returns the lower-cased scheme of raw, or an error if raw does
// not parse as a URL.
func ParseScheme(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", NewErr(KindInvalidInput, 0, "invalid URL %q: %v", raw, err)
	}
	return strings.ToLower(u.Scheme), nil
}

func HostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (o *MirroredOrigin) String() string {
	return fmt.Sprintf("MirroredOrigin{authority=%s, mirrors=%d}", o.Authority(), len(o.urls)-1)
}
