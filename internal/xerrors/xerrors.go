// Package xerrors wraps errors with caller positions and captured stacks
// so the logger can render error_links and stacktraces.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// New returns an error carrying the caller's stack.
func New(msg string) error { return stackedSkip(errors.New(msg), 2) }

// Newf is New with fmt.Errorf formatting.
func Newf(format string, args ...any) error {
	return stackedSkip(fmt.Errorf(format, args...), 2)
}

// Wrap annotates err with a message and the wrapping call site. Returns
// nil when err is nil, so call sites can wrap unconditionally.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &msgErr{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf is Wrap with fmt formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &msgErr{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// WithStack attaches the caller's stack without changing the message.
func WithStack(err error) error { return stackedSkip(err, 2) }

// EnsureTrace guarantees a stack somewhere in the chain. Errors that
// already carry one pass through untouched, so the deepest capture wins.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	type hasStack interface{ StackPCs() []uintptr }
	var hs hasStack
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return stackedSkip(err, 2)
}

type stackErr struct {
	err error
	pcs []uintptr
}

func (w *stackErr) Error() string       { return w.err.Error() }
func (w *stackErr) Unwrap() error       { return w.err }
func (w *stackErr) StackPCs() []uintptr { return w.pcs }
func (w *stackErr) IsXerrorsWrapper()   {}

type msgErr struct {
	err error
	msg string
	pc  uintptr
}

func (w *msgErr) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *msgErr) Unwrap() error     { return w.err }
func (w *msgErr) PC() uintptr       { return w.pc }
func (w *msgErr) IsXerrorsWrapper() {}

func stackedSkip(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stackErr{err: err, pcs: captureStack(skip)}
}

func captureStack(skip int) []uintptr {
	const maxDepth = 64
	pcs := make([]uintptr, maxDepth)
	// 2 skips runtime.Callers and captureStack itself
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}
