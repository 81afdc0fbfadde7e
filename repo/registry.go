package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/cmn/cos"
	"github.com/openSUSE/libzypp-sub001/fs"
)

// Registry is the single-writer in-memory owner of every RepoInfo and
// ServiceInfo record, backed by INI files under the configured layout
// (§4.7, §3.4 "Repo registry exclusively owns RepoInfo and ServiceInfo
// records in memory; callers receive by-value snapshots").
type Registry struct {
	layout *fs.Layout
	hist   *History

	mu       sync.Mutex
	repos    map[string]*RepoInfo
	services map[string]*ServiceInfo
}

func NewRegistry(layout *fs.Layout) (*Registry, error) {
	r := &Registry{
		layout:   layout,
		hist:     NewHistory(layout.HistoryFile()),
		repos:    make(map[string]*RepoInfo),
		services: make(map[string]*ServiceInfo),
	}
	if err := r.loadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadAll() error {
	matches, err := filepath.Glob(filepath.Join(r.layout.ReposDir(), "*.repo"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := r.loadRepoFile(path); err != nil {
			return cmn.NewErr(cmn.KindInvalidInput, 0, "load %s: %v", path, err)
		}
	}
	matches, err = filepath.Glob(filepath.Join(r.layout.ServicesDir(), "*.service"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := r.loadServiceFile(path); err != nil {
			return cmn.NewErr(cmn.KindInvalidInput, 0, "load %s: %v", path, err)
		}
	}
	return nil
}

func (r *Registry) loadRepoFile(path string) error {
	if !cos.Exists(path) {
		return nil
	}
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return err
	}
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		ri := repoInfoFromSection(sec)
		ri.FilePath = path
		r.repos[ri.Alias] = ri
	}
	return nil
}

func (r *Registry) loadServiceFile(path string) error {
	if !cos.Exists(path) {
		return nil
	}
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return err
	}
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		si := serviceInfoFromSection(sec)
		si.FilePath = path
		r.services[si.Alias] = si
	}
	return nil
}

func repoInfoFromSection(sec *ini.Section) *RepoInfo {
	ri := &RepoInfo{
		Alias:        sec.Name(),
		Name:         sec.Key("name").MustString(sec.Name()),
		Enabled:      cmn.ParseBool(sec.Key("enabled").String(), true),
		Autorefresh:  cmn.ParseBool(sec.Key("autorefresh").String(), false),
		BaseURLs:     sec.Key("baseurl").ValueWithShadows(),
		Path:         sec.Key("path").MustString("/"),
		Type:         RepoKind(sec.Key("type").MustString("")),
		Priority:     sec.Key("priority").MustInt(99),
		KeepPackages: cmn.ParseBool(sec.Key("keeppackages").String(), false),
		GpgCheck:     ParseTristate(sec.Key("gpgcheck").String()),
		RepoGpgCheck: ParseTristate(sec.Key("repo_gpgcheck").String()),
		PkgGpgCheck:  ParseTristate(sec.Key("pkg_gpgcheck").String()),
	}
	if ri.Type == "" {
		ri.Type = KindNone
	}
	return ri
}

func writeRepoInfoToSection(sec *ini.Section, ri *RepoInfo) {
	sec.Key("name").SetValue(ri.Name)
	sec.Key("enabled").SetValue(boolStr(ri.Enabled))
	sec.Key("autorefresh").SetValue(boolStr(ri.Autorefresh))
	sec.DeleteKey("baseurl")
	for _, u := range ri.BaseURLs {
		sec.NewKey("baseurl", u)
	}
	sec.Key("path").SetValue(ri.Path)
	if ri.Type != "" && ri.Type != KindNone {
		sec.Key("type").SetValue(string(ri.Type))
	}
	sec.Key("priority").SetValue(strconv.Itoa(ri.Priority))
	sec.Key("keeppackages").SetValue(boolStr(ri.KeepPackages))
	if ri.GpgCheck != TristateDefault {
		sec.Key("gpgcheck").SetValue(ri.GpgCheck.String())
	}
	if ri.RepoGpgCheck != TristateDefault {
		sec.Key("repo_gpgcheck").SetValue(ri.RepoGpgCheck.String())
	}
	if ri.PkgGpgCheck != TristateDefault {
		sec.Key("pkg_gpgcheck").SetValue(ri.PkgGpgCheck.String())
	}
}

func serviceInfoFromSection(sec *ini.Section) *ServiceInfo {
	si := &ServiceInfo{
		Alias:   sec.Name(),
		Name:    sec.Key("name").MustString(sec.Name()),
		Enabled: cmn.ParseBool(sec.Key("enabled").String(), true),
		URL:     sec.Key("url").String(),
		Type:    ServiceKind(sec.Key("type").MustString(string(ServiceRIS))),
		Repos:   map[string]bool{},
	}
	for _, k := range sec.Key("repo_enabled").ValueWithShadows() {
		parts := strings.SplitN(k, "=", 2)
		if len(parts) == 2 {
			si.Repos[parts[0]] = cmn.ParseBool(parts[1], true)
		}
	}
	return si
}

func writeServiceInfoToSection(sec *ini.Section, si *ServiceInfo) {
	sec.Key("name").SetValue(si.Name)
	sec.Key("enabled").SetValue(boolStr(si.Enabled))
	sec.Key("url").SetValue(si.URL)
	sec.Key("type").SetValue(string(si.Type))
	sec.DeleteKey("repo_enabled")
	aliases := make([]string, 0, len(si.Repos))
	for a := range si.Repos {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	for _, a := range aliases {
		sec.NewKey("repo_enabled", fmt.Sprintf("%s=%s", a, boolStr(si.Repos[a])))
	}
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// saveRepoFile atomically rewrites path with every RepoInfo whose FilePath
// equals path (§4.7 "the file-of-origin is remembered so edits overwrite
// the originating file").
func (r *Registry) saveRepoFile(path string) error {
	cfg := ini.Empty(ini.LoadOptions{AllowShadows: true})
	var aliases []string
	for alias, ri := range r.repos {
		if ri.FilePath == path {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		sec, err := cfg.NewSection(alias)
		if err != nil {
			return err
		}
		writeRepoInfoToSection(sec, r.repos[alias])
	}
	return atomicSaveIni(cfg, path)
}

func (r *Registry) saveServiceFile(path string) error {
	cfg := ini.Empty(ini.LoadOptions{AllowShadows: true})
	var aliases []string
	for alias, si := range r.services {
		if si.FilePath == path {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		sec, err := cfg.NewSection(alias)
		if err != nil {
			return err
		}
		writeServiceInfoToSection(sec, r.services[alias])
	}
	return atomicSaveIni(cfg, path)
}

func atomicSaveIni(cfg *ini.File, target string) error {
	tmp := cos.TempName(target)
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return err
	}
	if _, err := cfg.WriteTo(f); err != nil {
		cos.Close(f)
		_ = cos.RemoveFile(tmp)
		return err
	}
	if err := cos.FlushClose(f); err != nil {
		_ = cos.RemoveFile(tmp)
		return err
	}
	return cos.CommitRename(tmp, target)
}

// Add implements §4.7 add(RepoInfo): alias uniqueness, cache path
// assignment, atomic write, history append.
func (r *Registry) Add(ri *RepoInfo) (*RepoInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.repos[ri.Alias]; exists {
		return nil, cmn.NewRepoAlreadyExistsException(ri.Alias)
	}
	cp := *ri
	cp.MetadataPath = r.layout.RawCacheDir(cp.Alias)
	cp.PackagesPath = r.layout.SolvCacheDir(cp.Alias)
	cp.FilePath = r.layout.RepoFile(cp.Alias)

	r.repos[cp.Alias] = &cp
	if err := r.saveRepoFile(cp.FilePath); err != nil {
		delete(r.repos, cp.Alias)
		return nil, err
	}
	r.hist.Append("repo-added", cp.Alias)
	snap := cp
	return &snap, nil
}

// Remove implements §4.7 remove(alias): strip the section, delete caches,
// append history.
func (r *Registry) Remove(alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ri, ok := r.repos[alias]
	if !ok {
		return cmn.NewErr(cmn.KindInvalidInput, 0, "repository %q does not exist", alias)
	}
	delete(r.repos, alias)
	if err := r.saveRepoFile(ri.FilePath); err != nil {
		return err
	}
	_ = os.RemoveAll(r.layout.RawCacheDir(alias))
	_ = os.RemoveAll(r.layout.SolvCacheDir(alias))
	r.hist.Append("repo-removed", alias)
	return nil
}

// Modify implements §4.7 modify(oldAlias, RepoInfo): atomic section
// replace; alias-change requires re-checking uniqueness.
func (r *Registry) Modify(oldAlias string, ri *RepoInfo) (*RepoInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.repos[oldAlias]
	if !ok {
		return nil, cmn.NewErr(cmn.KindInvalidInput, 0, "repository %q does not exist", oldAlias)
	}
	if ri.Alias != oldAlias {
		if _, exists := r.repos[ri.Alias]; exists {
			return nil, cmn.NewRepoAlreadyExistsException(ri.Alias)
		}
	}
	cp := *ri
	cp.MetadataPath = old.MetadataPath
	cp.PackagesPath = old.PackagesPath
	cp.FilePath = old.FilePath

	delete(r.repos, oldAlias)
	r.repos[cp.Alias] = &cp
	if err := r.saveRepoFile(cp.FilePath); err != nil {
		return nil, err
	}
	r.hist.Append("repo-modified", cp.Alias)
	snap := cp
	return &snap, nil
}

func (r *Registry) Get(alias string) (*RepoInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ri, ok := r.repos[alias]
	if !ok {
		return nil, false
	}
	cp := *ri
	return &cp, true
}

func (r *Registry) All() []*RepoInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RepoInfo, 0, len(r.repos))
	for _, ri := range r.repos {
		cp := *ri
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// GenerateNonExistingName implements §4.7 generateNonExistingName: returns
// a unique filename in dir that does not yet exist, by appending integer
// suffixes.
func GenerateNonExistingName(dir, basename string) string {
	candidate := filepath.Join(dir, basename)
	if !cos.Exists(candidate) {
		return candidate
	}
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d", basename, i))
		if !cos.Exists(candidate) {
			return candidate
		}
	}
}
