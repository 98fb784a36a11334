package vfs

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrInjected is the default error surfaced by Faulty.
var ErrInjected = errors.New("vfs: injected fault")

// Fault describes the failure behavior for matching URIs.
type Fault struct {
	FailWrite      bool
	FailRead       bool
	FailTouch      bool
	FailClose      bool
	FailAfterBytes int64 // fail writes once more than this many bytes accumulate; 0 disables
	Err            error
}

// Faulty wraps a VFS and injects errors for testing. Rules match URIs by
// substring; the zero rule set passes everything through.
type Faulty struct {
	FS VFS

	mu      sync.Mutex
	rules   map[string]Fault
	written map[string]int64
}

// NewFaulty wraps fs (Mem if nil).
func NewFaulty(fs VFS) *Faulty {
	if fs == nil {
		fs = NewMem()
	}
	return &Faulty{
		FS:      fs,
		rules:   make(map[string]Fault),
		written: make(map[string]int64),
	}
}

// SetFault installs a rule for URIs containing pattern.
func (f *Faulty) SetFault(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.rules[pattern] = fault
}

func (f *Faulty) fault(uri string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pat, rule := range f.rules {
		if strings.Contains(uri, pat) {
			return rule, true
		}
	}
	return Fault{}, false
}

func (f *Faulty) CreateDir(ctx context.Context, uri string) error {
	return f.FS.CreateDir(ctx, uri)
}

func (f *Faulty) Touch(ctx context.Context, uri string) error {
	if rule, ok := f.fault(uri); ok && rule.FailTouch {
		return rule.Err
	}
	return f.FS.Touch(ctx, uri)
}

func (f *Faulty) Write(ctx context.Context, uri string, data []byte) error {
	if rule, ok := f.fault(uri); ok {
		if rule.FailWrite {
			return rule.Err
		}
		if rule.FailAfterBytes > 0 {
			f.mu.Lock()
			f.written[uri] += int64(len(data))
			over := f.written[uri] > rule.FailAfterBytes
			f.mu.Unlock()
			if over {
				return rule.Err
			}
		}
	}
	return f.FS.Write(ctx, uri, data)
}

func (f *Faulty) CloseFile(ctx context.Context, uri string) error {
	if rule, ok := f.fault(uri); ok && rule.FailClose {
		return rule.Err
	}
	return f.FS.CloseFile(ctx, uri)
}

func (f *Faulty) ReadAt(ctx context.Context, uri string, offset int64, buf []byte) error {
	if rule, ok := f.fault(uri); ok && rule.FailRead {
		return rule.Err
	}
	return f.FS.ReadAt(ctx, uri, offset, buf)
}

func (f *Faulty) FileSize(ctx context.Context, uri string) (int64, error) {
	return f.FS.FileSize(ctx, uri)
}

func (f *Faulty) IsFile(ctx context.Context, uri string) (bool, error) {
	return f.FS.IsFile(ctx, uri)
}

func (f *Faulty) IsDir(ctx context.Context, uri string) (bool, error) {
	return f.FS.IsDir(ctx, uri)
}

func (f *Faulty) RemoveFile(ctx context.Context, uri string) error {
	return f.FS.RemoveFile(ctx, uri)
}

func (f *Faulty) RemoveDir(ctx context.Context, uri string) error {
	return f.FS.RemoveDir(ctx, uri)
}

func (f *Faulty) ListDir(ctx context.Context, uri string) ([]string, error) {
	return f.FS.ListDir(ctx, uri)
}
