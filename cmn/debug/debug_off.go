//go:build !debug

package debug

func Errorf(f string, a ...interface{})             {}
func Infof(f string, a ...interface{})              {}
func Func(f func())                                 {}
func Assert(cond bool, a ...interface{})            {}
func AssertMsg(cond bool, msg string)                {}
func AssertNoErr(err error)                          {}
func Assertf(cond bool, f string, a ...interface{}) {}
