// Package adminlock provides the deadline-bounded single-owner lock
// that guards a shard's add_generation (generation.Manager.AddGeneration)
// against concurrent callers (spec.md §5, "Timeouts"). drop_generation,
// open_db and close_db do not take this lock.
//
// Administrative operations are process-local to the shard that owns
// them (spec.md's Non-goals explicitly exclude replication/Raft), so
// the lock is a CAS-and-verify protocol over an in-process mutex and
// wall-clock deadline rather than a distributed lock: an owner ID is
// set on acquire and checked on release, with no network hop involved.
package adminlock

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Lock is a single named administrative lock (one per shard).
type Lock struct {
	mu       sync.Mutex
	owner    string
	deadline time.Time
}

// New creates an unheld lock.
func New() *Lock { return &Lock{} }

// NewOwnerID generates a fresh random owner token, mirroring
// lockmgr.generateOwnerID's random-256-bit-value approach so a caller
// cannot forge another caller's release.
func NewOwnerID() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Acquire takes the lock for ownerID until deadline. It returns
// ok=false without blocking if the lock is currently held by a
// different owner whose own deadline has not yet passed.
func (l *Lock) Acquire(ownerID string, deadline time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.owner != "" && l.owner != ownerID && now.Before(l.deadline) {
		return false
	}
	l.owner = ownerID
	l.deadline = deadline
	return true
}

// Release releases the lock if held by ownerID and returns true.
// Releasing a lock held by someone else leaves it held and returns
// false; releasing an unheld lock returns true. Neither case is an
// error, matching the "release of a nonexistent lock" tolerance the
// original lockmgr documents.
func (l *Lock) Release(ownerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner == "" {
		return true
	}
	if l.owner != ownerID {
		return false
	}
	l.owner = ""
	l.deadline = time.Time{}
	return true
}

// Expired reports whether the current holder's deadline has passed, so
// a caller can forcefully reclaim an admin op that was terminated
// mid-flight (spec.md §5: "allocated column families must be
// reclaimable on the next open").
func (l *Lock) Expired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner != "" && time.Now().After(l.deadline)
}

// ForceRelease clears the lock unconditionally, used after Expired
// reports true.
func (l *Lock) ForceRelease() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owner = ""
	l.deadline = time.Time{}
}
