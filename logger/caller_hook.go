package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// callSiteHook points entry.Caller at the first frame outside the wrapped
// packages, so file:line names the component and not this wrapper.
type callSiteHook struct {
	wrapped []string
}

func newCallSiteHook() *callSiteHook {
	return &callSiteHook{wrapped: []string{"github.com/sirupsen/logrus.", "exchangehub/logger."}}
}

func (h *callSiteHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *callSiteHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 24)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(4, pcs)])
	for {
		f, more := frames.Next()
		if f.File != "<autogenerated>" && !h.isWrapped(f.Function) {
			entry.Caller = &f
			return nil
		}
		if !more {
			return nil
		}
	}
}

func (h *callSiteHook) isWrapped(fn string) bool {
	for _, prefix := range h.wrapped {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	return false
}
