// Package atomic provides small typed wrappers over sync/atomic so that call
// sites carry the field's type instead of a bare int64/pointer.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package atomic

import "sync/atomic"

type Int32 struct{ v int32 }

func (a *Int32) Load() int32 { return atomic.LoadInt32(&a.v) }
func (a *Int32) Store(val int32) { atomic.StoreInt32(&a.v, val) }
func (a *Int32) Add(delta int32) int32 { return atomic.AddInt32(&a.v, delta) }
func (a *Int32) CAS(old, nw int32) bool {
	return atomic.CompareAndSwapInt32(&a.v, old, nw)
}

type Int64 struct{ v int64 }

func (a *Int64) Load() int64 { return atomic.LoadInt64(&a.v) }
func (a *Int64) Store(val int64) { atomic.StoreInt64(&a.v, val) }
func (a *Int64) Add(delta int64) int64 { return atomic.AddInt64(&a.v, delta) }
func (a *Int64) CAS(old, nw int64) bool {
	return atomic.CompareAndSwapInt64(&a.v, old, nw)
}

type Uint64 struct{ v uint64 }

func (a *Uint64) Load() uint64 { return atomic.LoadUint64(&a.v) }
func (a *Uint64) Store(val uint64) { atomic.StoreUint64(&a.v, val) }
func (a *Uint64) Add(delta uint64) uint64 { return atomic.AddUint64(&a.v, delta) }
func (a *Uint64) CAS(old, nw uint64) bool {
	return atomic.CompareAndSwapUint64(&a.v, old, nw)
}

type Bool struct{ v int32 }

func (a *Bool) Load() bool {
	return atomic.LoadInt32(&a.v) != 0
}

func (a *Bool) Store(val bool) {
	var i int32
	if val {
		i = 1
	}
	atomic.StoreInt32(&a.v, i)
}

// CAS compares-and-swaps the boolean, returning whether the swap happened.
func (a *Bool) CAS(old, nw bool) bool {
	var oldI, nwI int32
	if old {
		oldI = 1
	}
	if nw {
		nwI = 1
	}
	return atomic.CompareAndSwapInt32(&a.v, oldI, nwI)
}

// Pointer is a typed wrapper over atomic.Pointer[T], used to swap
// immutable snapshots (cluster maps, sessions) without locking readers.
type Pointer[T any] struct {
	p atomic.Pointer[T]
}

func (a *Pointer[T]) Load() *T { return a.p.Load() }
func (a *Pointer[T]) Store(val *T) { a.p.Store(val) }
func (a *Pointer[T]) Swap(val *T) *T { return a.p.Swap(val) }
func (a *Pointer[T]) CAS(old, nw *T) bool {
	return a.p.CompareAndSwap(old, nw)
}
