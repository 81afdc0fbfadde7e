// Package backend implements the per-scheme transfer logic invoked by a
// worker binary's request loop (§4.2, §6.4): one Backend per access scheme,
// each wired to the third-party SDK that scheme's pack entry calls for.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package backend

import (
	"context"

	"github.com/openSUSE/libzypp-sub001/cmn"
)

// Backend fetches one URL to a local destination file, returning the
// number of bytes written. Implementations never retry or fail over --
// that is the scheduler's job (§4.3.3); a Backend reports one attempt's
// outcome.
type Backend interface {
	Fetch(ctx context.Context, url, destPath string, headers map[string]string) (size int64, err error)
}

// Dispatch resolves the Backend for scheme, after the §4.3.1 scheme-alias
// collapse has already been applied by the caller.
func Dispatch(scheme string) (Backend, error) {
	switch scheme {
	case "http", "ftp", "tftp":
		return newHTTPBackend(), nil
	case "s3":
		return newS3Backend(), nil
	case "gs":
		return newGCSBackend(), nil
	case "azure":
		return newAzureBackend(), nil
	case "hdfs":
		return newHDFSBackend(), nil
	case "nfs", "smb", "dir", "disc", "cd", "dvd", "iso":
		return newMountBackend(), nil
	default:
		return nil, cmn.NewErr(cmn.KindConfiguration, 0, "no backend registered for scheme %q", scheme)
	}
}
