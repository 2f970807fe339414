// Package cos provides common low-level types shared by every HERMES
// package: a typed error taxonomy for configuration, discovery, sync,
// device, transport, overflow, and drain-timeout failures, a bounded
// multi-error collector for per-sample transient failures, and checksum
// helpers for persisted storage blocks.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package cos

import (
	"fmt"
	"strings"
	"sync"

	"github.com/OneOfOne/xxhash"
)

// JoinWords concatenates path-like segments with "/", skipping empties.
func JoinWords(words...string) string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, "/")
}

// Checksum64 returns the xxhash64 digest of b, used to guard every
// persisted storage block and the VMD-style session metadata record.
func Checksum64(b []byte) uint64 {
	h := xxhash.New64()
	_, _ = h.Write(b)
	return h.Sum64()
}

///////////////////////
// error kinds (§7) //
///////////////////////

type (
	// ErrConfig: invalid/inconsistent topology or node spec, detected at BOOT.
	ErrConfig struct{ Detail string }
	// ErrDiscovery: a configured peer was unreachable within the discover deadline.
	ErrDiscovery struct{ Peer string }
	// ErrSync: reference-clock election failed or was ambiguous.
	ErrSync struct{ Detail string }
	// ErrDevice: sensor SDK refused to open, or faulted mid-run.
	ErrDevice struct {
		NodeID string
		Detail string
	}
	// ErrTransport: socket send/recv failure.
	ErrTransport struct {
		Peer string
		Err error
	}
	// ErrOverflow: a storage ring exceeded capacity.
	ErrOverflow struct {
		StreamID string
		Capacity int
	}
	// ErrDrainTimeout: DRAIN's soft deadline elapsed with unflushed samples.
	ErrDrainTimeout struct {
		Unflushed int
	}
)

func (e *ErrConfig) Error() string { return "configuration error: " + e.Detail }
func (e *ErrDiscovery) Error() string { return fmt.Sprintf("discovery error: peer %q unreachable", e.Peer) }
func (e *ErrSync) Error() string { return "sync error: " + e.Detail }
func (e *ErrDevice) Error() string { return fmt.Sprintf("device error: node %q: %s", e.NodeID, e.Detail) }
func (e *ErrTransport) Error() string { return fmt.Sprintf("transport error: peer %q: %v", e.Peer, e.Err) }
func (e *ErrTransport) Unwrap() error { return e.Err }
func (e *ErrOverflow) Error() string {
	return fmt.Sprintf("overflow error: stream %q exceeded capacity %d", e.StreamID, e.Capacity)
}
func (e *ErrDrainTimeout) Error() string {
	return fmt.Sprintf("drain timeout: %d samples unflushed", e.Unflushed)
}

// Errs is a bounded, deduplicating multi-error collector: transient
// per-sample errors are logged and counted but must never allocate
// without bound, so only the first maxErrs distinct messages are kept.
type Errs struct {
	mu sync.Mutex
	errs []error
	cnt int64
}

const maxErrs = 8

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cnt++
	for _, have := range e.errs {
		if have.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

// Count returns the total number of Add calls, including duplicates and
// errors dropped once the dedup set reached maxErrs.
func (e *Errs) Count() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cnt
}

func (e *Errs) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return ""
	}
	parts := make([]string, len(e.errs))
	for i, err := range e.errs {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d error(s) (%d total): %s", len(e.errs), e.cnt, strings.Join(parts, "; "))
}

func (e *Errs) Empty() bool {
	return e.Count() == 0
}
