// Command zyppd is the repository-management daemon: it loads the repo and
// service registries, starts the provider scheduler, and serves refresh and
// cache-build requests, grounded on the teacher's ais/daemon.go flag-parsing
// and rungroup idiom (cmd/aisnode).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/fs"
	"github.com/openSUSE/libzypp-sub001/hk"
	"github.com/openSUSE/libzypp-sub001/provider"
	"github.com/openSUSE/libzypp-sub001/repo"
	"github.com/openSUSE/libzypp-sub001/stats"
)

const autorefreshJob = "autorefresh"

var cli struct {
	root      string
	workerDir string
	command   string
	alias     string
	url       string
	forced    bool
}

func init() {
	flag.StringVar(&cli.root, "root", "/", "filesystem layout root (§6.1)")
	flag.StringVar(&cli.workerDir, "worker-dir", "/usr/lib/zypp/workers", "directory holding per-scheme worker binaries")
	flag.StringVar(&cli.command, "command", "serve", "serve | add-repo | remove-repo | refresh | list")
	flag.StringVar(&cli.alias, "alias", "", "repository alias, for add-repo/remove-repo/refresh")
	flag.StringVar(&cli.url, "url", "", "repository baseurl, for add-repo")
	flag.BoolVar(&cli.forced, "forced", false, "force a refresh regardless of repo.refresh.delay")
}

// binaryLocator resolves "<worker-dir>/<scheme>" as the worker binary path,
// the simplest possible BinaryLocator and the one a packaged install uses.
// Every worker gets the daemon's anonymous telemetry id in its handshake
// configuration, matching the original's opt-in download-stats header.
func binaryLocator(dir string, layout *fs.Layout) provider.BinaryLocator {
	return func(scheme string) (string, map[string]string, error) {
		path := filepath.Join(dir, scheme)
		if _, err := os.Stat(path); err != nil {
			return "", nil, cmn.NewErr(cmn.KindConfiguration, 0, "no worker binary for scheme %q at %s", scheme, path)
		}
		config := map[string]string{}
		if id, err := cmn.AnonymousUniqueId(layout.AnonymousUniqueIdFile()); err == nil {
			config["anonymous-id"] = id
		}
		return path, config, nil
	}
}

// stdinPrompt implements provider.PromptFunc for interactive use: ask on
// the controlling terminal, matching the teacher's CLI prompt convention of
// reading a single line from stdin.
func stdinPrompt(effectiveURL, usernameHint string) (provider.Credentials, error) {
	fmt.Fprintf(os.Stderr, "Authentication required for %s\n", effectiveURL)
	reader := bufio.NewReader(os.Stdin)
	fmt.Fprintf(os.Stderr, "Username [%s]: ", usernameHint)
	user, _ := reader.ReadString('\n')
	user = trimNL(user)
	if user == "" {
		user = usernameHint
	}
	fmt.Fprint(os.Stderr, "Password: ")
	pass, _ := reader.ReadString('\n')
	pass = trimNL(pass)
	if user == "" && pass == "" {
		return provider.Credentials{}, cmn.NewErr(cmn.KindAuth, 0, "no credentials supplied for %s", effectiveURL)
	}
	return provider.Credentials{Username: user, Password: pass, Timestamp: time.Now()}, nil
}

func trimNL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg := cmn.DefaultConfig(cli.root)
	cmn.GCO.Put(cfg)

	layout := fs.NewLayout(cli.root)
	registry, err := repo.NewRegistry(layout)
	if err != nil {
		glog.Exitf("load registry: %v", err)
	}

	switch cli.command {
	case "add-repo":
		runAddRepo(registry)
		return
	case "remove-repo":
		runRemoveRepo(registry)
		return
	case "list":
		runList(registry)
		return
	case "refresh":
		runRefresh(registry, layout, cfg)
		return
	case "serve":
		runServe(registry, layout, cfg)
		return
	default:
		glog.Exitf("unknown -command %q", cli.command)
	}
}

func runAddRepo(registry *repo.Registry) {
	if cli.alias == "" || cli.url == "" {
		glog.Exitf("add-repo requires -alias and -url")
	}
	ri := &repo.RepoInfo{Alias: cli.alias, BaseURLs: []string{cli.url}, Enabled: true, Path: "/"}
	added, err := registry.Add(ri)
	if err != nil {
		glog.Exitf("add-repo: %v", err)
	}
	fmt.Printf("added %q (%s)\n", added.Alias, added.BaseURLs[0])
}

func runRemoveRepo(registry *repo.Registry) {
	if cli.alias == "" {
		glog.Exitf("remove-repo requires -alias")
	}
	if err := registry.Remove(cli.alias); err != nil {
		glog.Exitf("remove-repo: %v", err)
	}
	fmt.Printf("removed %q\n", cli.alias)
}

func runList(registry *repo.Registry) {
	for _, ri := range registry.All() {
		state := "disabled"
		if ri.Enabled {
			state = "enabled"
		}
		fmt.Printf("%-20s %-10s %s\n", ri.Alias, state, ri.BaseURLs)
	}
}

func runRefresh(registry *repo.Registry, layout *fs.Layout, cfg *cmn.Config) {
	if cli.alias == "" {
		glog.Exitf("refresh requires -alias")
	}
	ri, ok := registry.Get(cli.alias)
	if !ok {
		glog.Exitf("refresh: repository %q does not exist", cli.alias)
	}

	sched := provider.NewScheduler(cfg.Provider, binaryLocator(cli.workerDir, layout), stdinPrompt)
	sched.Start()
	defer sched.Stop()

	policy := repo.IfNeeded
	if cli.forced {
		policy = repo.Forced
	}
	rc := &repo.RefreshContext{Repo: ri, Layout: layout, Policy: policy, Default: cfg.Refresh.DefaultDelay}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Provider.RequestTimeout)
	defer cancel()
	result, err := repo.Refresh(ctx, sched, rc)
	if err != nil {
		glog.Exitf("refresh %q: %v (root cause: %v)", cli.alias, err, cmn.FirstCause(err))
	}
	fmt.Printf("refresh %q: %v\n", cli.alias, result)

	if err := repo.BuildCache(layout, ri, repo.BuildIfNeeded, nil); err != nil {
		glog.Exitf("build cache %q: %v", cli.alias, err)
	}
	fmt.Printf("solv cache for %q is up to date\n", cli.alias)
}

// runServe keeps the scheduler alive, refreshing every enabled
// autorefresh=1 repository on the configured delay and exposing Prometheus
// metrics, until SIGINT/SIGTERM.
func runServe(registry *repo.Registry, layout *fs.Layout, cfg *cmn.Config) {
	sched := provider.NewScheduler(cfg.Provider, binaryLocator(cli.workerDir, layout), stdinPrompt)
	sched.Start()

	metrics := stats.NewRegistry(prometheus.DefaultRegisterer)
	stopSampling := make(chan struct{})
	go metrics.SampleDiskIO(10*time.Second, stopSampling)
	go metrics.SampleCacheSpace(cli.root, 30*time.Second, stopSampling)

	registerAutorefresh(registry, sched, layout, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	glog.Infof("zyppd serving, root=%s", cli.root)
	<-sigCh

	glog.Infoln("shutting down")
	hk.Unreg(autorefreshJob)
	close(stopSampling)
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := sched.DrainAll(drainCtx); err != nil {
		glog.Warningf("drain: %v", err)
	}
	sched.Stop()
}

// registerAutorefresh schedules the periodic autorefresh sweep through the
// housekeeping registrar instead of a hand-rolled ticker goroutine: the
// callback itself reports how long to wait before the next run, and rereads
// cfg.Refresh.DefaultDelay/cfg.Provider.RequestTimeout from cmn.GCO on every
// firing, so a future config reload (cmn.GCO.Put of a new *Config) takes
// effect without re-registering the hk job.
func registerAutorefresh(registry *repo.Registry, sched *provider.Scheduler, layout *fs.Layout, cfg *cmn.Config) {
	hk.Reg(autorefreshJob, func() time.Duration {
		live := cmn.GCO.Get()
		for _, ri := range registry.All() {
			if !ri.Enabled || !ri.Autorefresh {
				continue
			}
			rc := &repo.RefreshContext{Repo: ri, Layout: layout, Policy: repo.IfNeeded, Default: live.Refresh.DefaultDelay}
			ctx, cancel := context.WithTimeout(context.Background(), live.Provider.RequestTimeout)
			if _, err := repo.Refresh(ctx, sched, rc); err != nil {
				glog.Warningf("autorefresh %q: %v (root cause: %v)", ri.Alias, err, cmn.FirstCause(err))
			}
			cancel()
		}
		return live.Refresh.DefaultDelay
	}, cfg.Refresh.DefaultDelay)
}
