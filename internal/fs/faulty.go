package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("injected fault")

// Fault describes the failure behavior for matching files.
type Fault struct {
	FailAfterBytes int64 // fail writes after this many bytes; -1 disables
	FailOnSync    bool
	FailOnRename  bool
	Err           error
}

// FaultyFS wraps a FileSystem and injects errors according to per-file
// rules. Rules match by substring of the file name.
type FaultyFS struct {
	FS FileSystem

	mu    sync.Mutex
	rules map[string]Fault
}

// NewFaultyFS creates a FaultyFS wrapping fs (or Default if nil).
func NewFaultyFS(fs FileSystem) *FaultyFS {
	if fs == nil {
		fs = Default
	}
	return &FaultyFS{
		FS:    fs,
		rules: make(map[string]Fault),
	}
}

// AddRule installs a fault for files whose name contains pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.rules[pattern] = fault
}

func (f *FaultyFS) faultFor(name string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pattern, fault := range f.rules {
		if strings.Contains(name, pattern) {
			return fault, true
		}
	}
	return Fault{}, false
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if fault, ok := f.faultFor(name); ok {
		return &faultyFile{File: file, fault: fault, remaining: fault.FailAfterBytes}, nil
	}
	return file, nil
}

func (f *FaultyFS) Remove(name string) error { return f.FS.Remove(name) }

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if fault, ok := f.faultFor(oldpath); ok && fault.FailOnRename {
		return fault.Err
	}
	if fault, ok := f.faultFor(newpath); ok && fault.FailOnRename {
		return fault.Err
	}
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }

func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}

type faultyFile struct {
	File
	fault     Fault
	remaining int64 // bytes until write failure; <0 means unlimited
}

func (f *faultyFile) Write(p []byte) (int, error) {
	if f.fault.FailAfterBytes >= 0 {
		if f.remaining <= 0 {
			return 0, f.fault.Err
		}
		if int64(len(p)) > f.remaining {
			n, _ := f.File.Write(p[:f.remaining])
			f.remaining = 0
			return n, f.fault.Err
		}
		f.remaining -= int64(len(p))
	}
	return f.File.Write(p)
}

func (f *faultyFile) Sync() error {
	if f.fault.FailOnSync {
		return f.fault.Err
	}
	return f.File.Sync()
}
