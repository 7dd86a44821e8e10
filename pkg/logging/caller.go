package logging

import (
	"runtime"
	"strings"
	"sync"
)

const maximumCallerDepth = 25

var (
	callerInitOnce sync.Once
	loggingPackage string
)

// getCaller returns the first stack frame outside this package and logrus,
// i.e. the call site that actually emitted the log line.
func getCaller() *runtime.Frame {
	callerInitOnce.Do(func() {
		pcs := make([]uintptr, 2)
		_ = runtime.Callers(0, pcs)
		loggingPackage = getPackageName(runtime.FuncForPC(pcs[1]).Name())
	})

	pcs := make([]uintptr, maximumCallerDepth)
	depth := runtime.Callers(0, pcs)
	frames := runtime.CallersFrames(pcs[:depth])
	for f, again := frames.Next(); again; f, again = frames.Next() {
		pkg := getPackageName(f.Function)
		if strings.HasPrefix(pkg, "runtime") {
			continue
		}
		if pkg == loggingPackage || strings.HasPrefix(pkg, "github.com/sirupsen/logrus") {
			continue
		}
		frame := f
		return &frame
	}
	return nil
}

func getPackageName(f string) string {
	for {
		lastPeriod := strings.LastIndex(f, ".")
		lastSlash := strings.LastIndex(f, "/")
		if lastPeriod > lastSlash {
			f = f[:lastPeriod]
		} else {
			break
		}
	}
	return f
}
