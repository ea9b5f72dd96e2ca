// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrDirLocked is returned when another live process holds the directory.
var ErrDirLocked = errors.New("storage directory is locked by another process")

// LockFileName is created inside the locked directory.
const LockFileName = "sqe.lock"

// FileLocker abstracts platform file locking. Lock never blocks; it
// returns ErrDirLocked when the file is already locked.
type FileLocker interface {
	Lock(f *os.File) error
	Unlock(f *os.File) error
}

// Holder describes the process that owns a DirLock.
type Holder struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// DirLockError carries the current holder when acquisition fails.
type DirLockError struct {
	Dir    string
	Holder *Holder
}

func (e *DirLockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("%s: held by pid %d on %s since %s",
			e.Dir, e.Holder.PID, e.Holder.Hostname, e.Holder.AcquiredAt.Format(time.RFC3339))
	}
	return e.Dir + ": " + ErrDirLocked.Error()
}

func (e *DirLockError) Unwrap() error {
	return ErrDirLocked
}

// DirLock is an advisory exclusive lock on a storage directory.
type DirLock struct {
	dir    string
	file   *os.File
	locker FileLocker
}

// AcquireDir locks dir for this process.
//
// Description:
//
//	Creates dir if needed, opens dir/sqe.lock and takes a non-blocking
//	exclusive lock on it. The holder's pid is written into the file so a
//	refused caller can report who owns it. The OS drops the lock when the
//	process exits, so a crashed server never leaves the directory stuck.
//
// Outputs:
//
//	*DirLock - The held lock. Call Release when done.
//	error - *DirLockError wrapping ErrDirLocked, or an I/O error.
func AcquireDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, LockFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	locker := newPlatformLocker()
	if err := locker.Lock(f); err != nil {
		holder := readHolder(f)
		f.Close()
		if errors.Is(err, ErrDirLocked) {
			return nil, &DirLockError{Dir: dir, Holder: holder}
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	host, _ := os.Hostname()
	info, _ := json.Marshal(Holder{PID: os.Getpid(), Hostname: host, AcquiredAt: time.Now().UTC()})
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt(info, 0)
	}

	return &DirLock{dir: dir, file: f, locker: locker}, nil
}

// Dir returns the locked directory.
func (l *DirLock) Dir() string {
	return l.dir
}

// Release unlocks and closes the lock file. The file itself is left in
// place; removing it would race with a process about to open it.
func (l *DirLock) Release() error {
	if l.file == nil {
		return nil
	}
	unlockErr := l.locker.Unlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(unlockErr, closeErr)
}

func readHolder(f *os.File) *Holder {
	buf := make([]byte, 512)
	n, _ := f.ReadAt(buf, 0)
	if n == 0 {
		return nil
	}
	var h Holder
	if err := json.Unmarshal(buf[:n], &h); err != nil {
		return nil
	}
	return &h
}
