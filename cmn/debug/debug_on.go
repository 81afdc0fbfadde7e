//go:build debug

// Package debug provides assertion and verbose-log helpers compiled in only
// under the "debug" build tag, mirroring the teacher's cmn/debug split
// between this debug_on.go and the no-op debug_off.go built without the tag.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/golang/glog"
)

func Errorf(f string, a ...interface{}) {
	glog.ErrorDepth(1, fmt.Sprintf("[DEBUG] "+f, a...))
}

func Infof(f string, a ...interface{}) {
	glog.InfoDepth(1, fmt.Sprintf("[DEBUG] "+f, a...))
}

func Func(f func()) { f() }

func _panic(a ...interface{}) {
	msg := "DEBUG PANIC: "
	if len(a) > 0 {
		msg += fmt.Sprint(a...)
	}
	buffer := bytes.NewBuffer(make([]byte, 0, 1024))
	fmt.Fprint(buffer, msg)
	for i := 2; i < 9; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok || !strings.Contains(file, "libzypp-sub001") {
			break
		}
		if buffer.Len() > len(msg) {
			buffer.WriteString(" <- ")
		}
		fmt.Fprintf(buffer, "%s:%d", filepath.Base(file), line)
	}
	glog.Errorf("%s", buffer.Bytes())
	glog.Flush()
	panic(msg)
}

func Assert(cond bool, a ...interface{}) {
	if !cond {
		_panic(a...)
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		_panic(msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		_panic(err)
	}
}

func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		_panic(fmt.Sprintf(f, a...))
	}
}
