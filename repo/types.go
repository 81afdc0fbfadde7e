// Package repo implements the repository and service registries of §4.7,
// the metadata refresh workflow of §4.5, and the solver cache build of
// §4.6, grounded on the teacher's registry/metadata-owner split (the way
// cluster ownership tables separate persistent records from in-memory
// bookkeeping) reworked onto gopkg.in/ini.v1-backed repo/service files.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package repo

import "github.com/openSUSE/libzypp-sub001/cmn"

// RepoKind is the probed or declared format of a repository's metadata
// (§4.5 "Probe").
type RepoKind string

const (
	KindRpmMd    RepoKind = "rpmmd"
	KindYaST2    RepoKind = "yast2"
	KindPlainDir RepoKind = "plaindir"
	KindNone     RepoKind = "NONE"
)

// Tristate models gpgcheck's {on, off, default} values (§6.2).
type Tristate uint8

const (
	TristateDefault Tristate = iota
	TristateOn
	TristateOff
)

func ParseTristate(s string) Tristate {
	switch s {
	case "on", "1":
		return TristateOn
	case "off", "0":
		return TristateOff
	default:
		return TristateDefault
	}
}

func (t Tristate) String() string {
	switch t {
	case TristateOn:
		return "on"
	case TristateOff:
		return "off"
	default:
		return "default"
	}
}

// Resolve applies the tristate-precedence rule: an explicit repo-level
// setting wins, otherwise the service default, otherwise global.
func (t Tristate) Resolve(fallback Tristate) Tristate {
	if t != TristateDefault {
		return t
	}
	return fallback
}

func (t Tristate) Bool(globalDefault bool) bool {
	switch t {
	case TristateOn:
		return true
	case TristateOff:
		return false
	default:
		return globalDefault
	}
}

// RepoInfo is the in-memory record for one `[alias]` section (§6.2, §4.7).
type RepoInfo struct {
	Alias       string
	Name        string
	Enabled     bool
	Autorefresh bool
	BaseURLs    []string // ordered mirror list, index 0 is the authority
	Path        string   // relative path within the repository, default "/"
	Type        RepoKind
	Priority    int

	KeepPackages bool
	GpgCheck     Tristate
	RepoGpgCheck Tristate
	PkgGpgCheck  Tristate

	MetadataPath string // assigned by Registry.Add
	PackagesPath string // assigned by Registry.Add
	FilePath     string // the .repo file this record was read from/written to
}

// Origin builds the MirroredOrigin used by the provider scheduler and the
// refresh workflow.
func (r *RepoInfo) Origin() (*cmn.MirroredOrigin, error) {
	if len(r.BaseURLs) == 0 {
		return nil, cmn.NewErr(cmn.KindInvalidInput, 0, "repository %q has no baseurl", r.Alias)
	}
	return cmn.NewMirroredOrigin(r.BaseURLs[0], r.BaseURLs[1:]...)
}

func (r *RepoInfo) Equal(o *RepoInfo) bool { return r.Alias == o.Alias }

// ServiceKind distinguishes the plain-repoindex ("RIS") service format from
// a plugin service invoked as an external program.
type ServiceKind string

const (
	ServiceRIS    ServiceKind = "ris"
	ServicePlugin ServiceKind = "plugin"
)

// ServiceInfo is the in-memory record for one `[alias]` service section.
type ServiceInfo struct {
	Alias   string
	Name    string
	Enabled bool
	URL     string
	Type    ServiceKind

	// Repos maps alias -> user-enabled override recorded the last time this
	// service was refreshed (§4.7 "reconciles the returned set").
	Repos map[string]bool

	FilePath string
}
