// Package atomicfile is the write primitive every stateful component funnels
// through. A write either fully replaces the target file or leaves it at its
// prior content; readers never observe a partially written state.
package atomicfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"waggle/types"
)

const (
	// DefaultLockTimeout bounds advisory lock acquisition. Lock contention
	// beyond this surfaces as a typed LockTimeout error; callers decide
	// their own backoff.
	DefaultLockTimeout = 5 * time.Second

	lockRetryDelay = 25 * time.Millisecond

	// LockSuffix names the sidecar file advisory locks are taken on. The
	// sidecar is never renamed over, so the lock survives replacement of
	// the data file itself.
	LockSuffix = ".lock"

	// ChecksumSuffix names the SHA256 sidecar written next to protected
	// files.
	ChecksumSuffix = ".checksum"
)

// Writer performs lock-guarded atomic file writes.
type Writer struct {
	lockTimeout time.Duration
}

// NewWriter returns a Writer with the given lock timeout. A zero or negative
// timeout falls back to DefaultLockTimeout.
func NewWriter(lockTimeout time.Duration) *Writer {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Writer{lockTimeout: lockTimeout}
}

// AcquireLock takes a timeout-bounded exclusive advisory lock scoped to path.
// The lock lives on a ".lock" sidecar so it is stable across atomic renames
// of the target. The caller must Unlock the returned handle.
func AcquireLock(path string, timeout time.Duration) (*flock.Flock, error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, types.IOFailureError("mkdir", filepath.Dir(path), err)
	}
	flk := flock.New(path + LockSuffix)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	locked, err := flk.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.LockTimeoutError(path, err)
		}
		return nil, types.IOFailureError("lock", path, err)
	}
	if !locked {
		return nil, types.LockTimeoutError(path, nil)
	}
	return flk, nil
}

// Write atomically replaces path with data under an exclusive advisory lock.
func (w *Writer) Write(path string, data []byte) error {
	flk, err := AcquireLock(path, w.lockTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = flk.Unlock() }()
	return Replace(path, data)
}

// WriteWithChecksum is Write plus a SHA256 sidecar for corruption detection.
func (w *Writer) WriteWithChecksum(path string, data []byte) error {
	flk, err := AcquireLock(path, w.lockTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = flk.Unlock() }()
	return ReplaceWithChecksum(path, data)
}

// Replace atomically replaces path with data without taking the advisory
// lock. It is the building block for components that hold their own lock
// around a larger critical section (the task board, mailbox delivery).
//
// The temporary file is created in the target's directory so the final
// rename stays on one filesystem and is therefore atomic.
func Replace(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.IOFailureError("mkdir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return types.IOFailureError("create temp", path, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return types.IOFailureError("write temp", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return types.IOFailureError("sync temp", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return types.IOFailureError("close temp", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return types.IOFailureError("chmod temp", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return types.IOFailureError("rename", path, err)
	}
	return nil
}

// ReplaceWithChecksum replaces path with data and then replaces its checksum
// sidecar. The data file lands first; a crash between the two renames leaves
// a stale sidecar, which readers report as corruption rather than silently
// accepting.
func ReplaceWithChecksum(path string, data []byte) error {
	if err := Replace(path, data); err != nil {
		return err
	}
	if err := Replace(path+ChecksumSuffix, []byte(Checksum(data))); err != nil {
		return types.WrapCoordError(types.CodeIOFailure,
			fmt.Sprintf("data file %s updated but checksum sidecar was not; store may be inconsistent", path), err)
	}
	return nil
}

// Checksum computes the hex SHA256 checksum of data.
func Checksum(data []byte) string {
	hasher := sha256.New()
	hasher.Write(data) // Write never returns an error
	return hex.EncodeToString(hasher.Sum(nil))
}

// ReadVerified reads path and, when a checksum sidecar exists, verifies the
// content against it. A missing sidecar is tolerated (pre-checksum data);
// a mismatching one is an IOFailure.
func ReadVerified(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, types.IOFailureError("read", path, err)
	}

	sidecar := path + ChecksumSuffix
	expected, err := os.ReadFile(sidecar)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return data, nil
		}
		return nil, types.IOFailureError("read checksum", sidecar, err)
	}
	want := strings.TrimSpace(string(expected))
	if got := Checksum(data); got != want {
		return nil, types.NewCoordError(types.CodeIOFailure,
			fmt.Sprintf("checksum mismatch for %s - expected %s, got %s - file is corrupt or tampered", path, want, got),
			map[string]interface{}{"path": path})
	}
	return data, nil
}
