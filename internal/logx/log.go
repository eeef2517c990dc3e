// Package logx is the shared leveled logger used by the allocator, heap
// facade, and scheduler to report diagnostics and consistency failures.
package logx

import (
	"fmt"

	"github.com/intuitivelabs/slog"
)

const (
	pWARN  = "WARNING: os: "
	pERR   = "ERROR: os: "
	pBUG   = "BUG: os: "
	pPANIC = "os: "
)

// Log is the package-wide logger. Level and output sink can be reconfigured
// by callers that want different verbosity (e.g. silence in tests).
var Log slog.Log = slog.New(slog.LDBG, slog.LbackTraceS|slog.LlocInfoS, slog.LStdErr)

// WARNon reports whether WARN-level logging is currently enabled.
func WARNon() bool { return Log.WARNon() }

// WARN logs a formatted warning.
func WARN(f string, a ...interface{}) {
	Log.LLog(slog.LWARN, 1, pWARN, f, a...)
}

// ERRon reports whether ERR-level logging is currently enabled.
func ERRon() bool { return Log.ERRon() }

// ERR logs a formatted error.
func ERR(f string, a ...interface{}) {
	Log.LLog(slog.LERR, 1, pERR, f, a...)
}

// BUG logs a formatted internal-invariant-violation message.
func BUG(f string, a ...interface{}) {
	Log.LLog(slog.LBUG, 1, pBUG, f, a...)
}

// PANIC logs a formatted fatal message and then panics with it. Reserved
// for programmer-misuse conditions this module treats as unrecoverable.
func PANIC(f string, a ...interface{}) {
	s := fmt.Sprintf(pPANIC+f, a...)
	Log.LLog(slog.LBUG, 1, "", "%s", s)
	panic(s)
}

// Prefixed tags every line it logs with a component name, so C2/C4/C5 can
// share one underlying logger while remaining individually attributable in
// interleaved output.
type Prefixed struct {
	tag string
}

// NewPrefixed returns a logger facade that tags every line with tag.
func NewPrefixed(tag string) *Prefixed {
	return &Prefixed{tag: tag}
}

func (p *Prefixed) WARN(f string, a ...interface{}) {
	Log.LLog(slog.LWARN, 1, "WARNING: "+p.tag+": ", f, a...)
}

func (p *Prefixed) ERR(f string, a ...interface{}) {
	Log.LLog(slog.LERR, 1, "ERROR: "+p.tag+": ", f, a...)
}

func (p *Prefixed) BUG(f string, a ...interface{}) {
	Log.LLog(slog.LBUG, 1, "BUG: "+p.tag+": ", f, a...)
}

func (p *Prefixed) PANIC(f string, a ...interface{}) {
	s := fmt.Sprintf(p.tag+": "+f, a...)
	Log.LLog(slog.LBUG, 1, "", "%s", s)
	panic(s)
}
