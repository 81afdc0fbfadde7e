// Package fs resolves the on-disk cache layout rooted at a configured
// directory (§6.1): repository/service definitions, raw metadata and solv
// caches, the anonymous unique id, and the history log.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package fs

import (
	"path/filepath"

	"github.com/karrick/godirwalk"

	"github.com/openSUSE/libzypp-sub001/cmn/cos"
)

// Layout resolves every on-disk path under a configured root, grounded on
// the teacher's mountpath/content-resolver split between "where things are
// stored" and "how content is typed" (content.go), narrowed here to the
// fixed single-root layout of §6.1.
type Layout struct {
	Root string
}

func NewLayout(root string) *Layout { return &Layout{Root: root} }

func (l *Layout) ReposDir() string    { return filepath.Join(l.Root, "etc", "zypp", "repos.d") }
func (l *Layout) ServicesDir() string { return filepath.Join(l.Root, "etc", "zypp", "services.d") }

func (l *Layout) RepoFile(alias string) string {
	return filepath.Join(l.ReposDir(), alias+".repo")
}

func (l *Layout) ServiceFile(alias string) string {
	return filepath.Join(l.ServicesDir(), alias+".service")
}

func (l *Layout) RawCacheDir(alias string) string {
	return filepath.Join(l.Root, "var", "cache", "zypp", "raw", alias)
}

func (l *Layout) SolvCacheDir(alias string) string {
	return filepath.Join(l.Root, "var", "cache", "zypp", "solv", alias)
}

func (l *Layout) SolvFile(alias string) string {
	return filepath.Join(l.SolvCacheDir(alias), "solv")
}

func (l *Layout) SolvIndexFile(alias string) string {
	return filepath.Join(l.SolvCacheDir(alias), "solv.idx")
}

func (l *Layout) CookieFile(alias string) string {
	return filepath.Join(l.SolvCacheDir(alias), "cookie")
}

func (l *Layout) AnonymousUniqueIdFile() string {
	return filepath.Join(l.Root, "var", "lib", "zypp", "AnonymousUniqueId")
}

func (l *Layout) HistoryFile() string {
	return filepath.Join(l.Root, "var", "log", "zypp", "history")
}

// WalkRawCache visits every file under the raw metadata cache directory for
// alias, in deterministic order, used when hashing the directory to produce
// the cookie's SHA1 digest (§6.1 "Cookie file format").
func (l *Layout) WalkRawCache(alias string, visit func(path string) error) error {
	return WalkDir(l.RawCacheDir(alias), visit)
}

// WalkDir visits every file under root, in deterministic order, the same
// way WalkRawCache does for a repository's raw cache directory -- factored
// out so a staging directory can be hashed before it is committed over the
// live raw cache (§4.5 step 4).
func WalkDir(root string, visit func(path string) error) error {
	if !cos.Exists(root) {
		return nil
	}
	return godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			return visit(path)
		},
	})
}
