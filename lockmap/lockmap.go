// Package lockmap is a sharded map of per-key locks.
//
// A LockMap behaves as if it held a lock for every uint64 key; journal
// operations use it to lock the keys they update until they commit. Only
// keys that are held or waited on take memory: shard i keeps the state of
// the keys k with k % NShard == i.
package lockmap

import (
	"sync"
)

const NShard uint64 = 43

type keyState struct {
	held    bool
	cond    *sync.Cond
	waiters uint64
}

type shard struct {
	mu    *sync.Mutex
	state map[uint64]*keyState
}

func mkShard() *shard {
	return &shard{
		mu:    new(sync.Mutex),
		state: make(map[uint64]*keyState),
	}
}

func (sh *shard) acquire(key uint64) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for {
		st, ok := sh.state[key]
		if !ok {
			st = &keyState{cond: sync.NewCond(sh.mu)}
			sh.state[key] = st
		}
		if !st.held {
			st.held = true
			return
		}
		st.waiters++
		st.cond.Wait()
		st.waiters--
	}
}

func (sh *shard) release(key uint64) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.state[key]
	if !ok || !st.held {
		panic("lockmap: release of unheld key")
	}
	st.held = false
	if st.waiters > 0 {
		st.cond.Signal()
	} else {
		delete(sh.state, key)
	}
}

type LockMap struct {
	shards []*shard
}

func MkLockMap() *LockMap {
	lm := &LockMap{shards: make([]*shard, NShard)}
	for i := range lm.shards {
		lm.shards[i] = mkShard()
	}
	return lm
}

func (lm *LockMap) shard(key uint64) *shard {
	return lm.shards[key%NShard]
}

// Acquire blocks until key's lock is free and takes it.
func (lm *LockMap) Acquire(key uint64) {
	lm.shard(key).acquire(key)
}

func (lm *LockMap) Release(key uint64) {
	lm.shard(key).release(key)
}
