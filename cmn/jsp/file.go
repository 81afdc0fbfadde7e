// Package jsp (JSON persistence) saves and loads JSON-encoded structures
// through a temp-file-plus-rename, adapted from the teacher's cmn/jsp.Save/
// Load. Used for the solv content-digest index written by repo/cache.go.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package jsp

import (
	"compress/gzip"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/openSUSE/libzypp-sub001/cmn/cos"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options controls the optional transforms Save/Load apply around the raw
// JSON payload.
type Options struct {
	Compress bool // gzip the body
}

// Save encodes v as JSON into a temp file beside filepath and renames it
// into place, so a crash mid-write never leaves a truncated target (§5:
// "Temporary files and directories ... are either committed via rename or
// destroyed in a scope guard").
func Save(filepath string, v interface{}, opts Options) (err error) {
	tmp := cos.TempName(filepath)
	file, err := cos.CreateFile(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = cos.RemoveFile(tmp)
		}
	}()

	var w io.Writer = file
	var gz *gzip.Writer
	if opts.Compress {
		gz = gzip.NewWriter(file)
		w = gz
	}
	enc := json.NewEncoder(w)
	if err = enc.Encode(v); err != nil {
		cos.Close(file)
		return err
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			cos.Close(file)
			return err
		}
	}
	if err = cos.FlushClose(file); err != nil {
		return err
	}
	return cos.CommitRename(tmp, filepath)
}

// Load decodes the JSON structure previously stored with Save.
func Load(filepath string, v interface{}, opts Options) error {
	file, err := os.Open(filepath)
	if err != nil {
		return err
	}
	defer cos.Close(file)

	var r io.Reader = file
	if opts.Compress {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}
	return json.NewDecoder(r).Decode(v)
}
