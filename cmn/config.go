package cmn

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/atomic"
)

// Config carries every tunable named in spec.md; its sections are passed
// explicitly to constructors such as provider.NewScheduler (cfg.Provider)
// rather than read from a global -- no package-level
// singleton at the core boundary (§9 design notes). GCO below exists only
// for the daemon entrypoint's own convenience, mirroring the teacher's
// cmn.GCO pattern; library code never reaches for it.
type Config struct {
	RootDir string // filesystem layout root, §6.1

	Provider ProviderConfig
	Fetch    FetchConfig
	Refresh  RefreshConfig
}

type ProviderConfig struct {
	MaxInstancesDefault int           // default 10, process-wide (§4.3.1)
	MaxInstancesPerHost int           // default 5
	IdleTTL             time.Duration // default 30s (§4.3.2)
	MediaIdleTTL        time.Duration // default 60s
	CancelGrace         time.Duration // default 5s (§4.3.6)
	RequestTimeout      time.Duration // ZConfig.download_transfer_timeout
	PulseInterval       time.Duration // 100ms scheduling pulse (§4.3.2)
	SchemeAliases       map[string]string
}

type FetchConfig struct {
	MaxConns       int           // default 10 (§4.4.1)
	ConnectTimeout time.Duration // DNS pre-check timeout (§4.4.3)
	RequestTimeout time.Duration // idle-progress timeout (§4.4.7)
	MaxSpeed       int64         // bytes/s, 0 = unlimited (§4.4.6)
	MinBlockSize   int64         // 4 KiB floor (§4.4.1)
}

type RefreshConfig struct {
	DefaultDelay time.Duration // repo.refresh.delay default
}

func DefaultConfig(root string) *Config {
	return &Config{
		RootDir: root,
		Provider: ProviderConfig{
			MaxInstancesDefault: 10,
			MaxInstancesPerHost: 5,
			IdleTTL:             30 * time.Second,
			MediaIdleTTL:        60 * time.Second,
			CancelGrace:         5 * time.Second,
			RequestTimeout:      60 * time.Second,
			PulseInterval:       100 * time.Millisecond,
			SchemeAliases:       DefaultSchemeAliases(),
		},
		Fetch: FetchConfig{
			MaxConns:       10,
			ConnectTimeout: 5 * time.Second,
			RequestTimeout: 60 * time.Second,
			MaxSpeed:       0,
			MinBlockSize:   4 * 1024,
		},
		Refresh: RefreshConfig{
			DefaultDelay: 10 * time.Minute,
		},
	}
}

// ProxyOverride reports whether a proxy environment variable applies to
// scheme, disabling the MF DNS pre-check per §6.5.
func ProxyOverride(scheme string) bool {
	scheme = strings.ToLower(scheme)
	candidates := []string{
		"all_proxy", "ALL_PROXY",
		scheme + "_proxy", strings.ToUpper(scheme) + "_PROXY",
	}
	for _, name := range candidates {
		if v := os.Getenv(name); v != "" {
			return true
		}
	}
	return false
}

// globalConfigOwner is the daemon-wide global config owner, grounded on the
// teacher's cmn.GCO: an atomically-swapped *Config behind
// go.uber.org/atomic.Value (the real upstream of the teacher's
// 3rdparty/atomic wrapper).
type globalConfigOwner struct {
	v atomic.Value
}

var GCO = &globalConfigOwner{}

func (g *globalConfigOwner) Put(c *Config) { g.v.Store(c) }

func (g *globalConfigOwner) Get() *Config {
	v := g.v.Load()
	if v == nil {
		return nil
	}
	return v.(*Config)
}

// ParseBool parses the §6.2 0/1 convention used by repo-definition files.
func ParseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	switch strings.TrimSpace(s) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return def
		}
		return b
	}
}
