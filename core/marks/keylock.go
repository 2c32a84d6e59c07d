package marks

import (
	"context"
	"hash/fnv"
	"sort"
)

const DefaultKeyLockShards = 64

// KeyLocker serializes in-process writers of the same composite key.
// Distinct keys may share a shard; they then simply wait on each other.
// A shard is a one-slot channel so that waiting honours the caller's context.
type KeyLocker struct {
	shards []chan struct{}
}

func NewKeyLocker(shards int) *KeyLocker {
	if shards <= 0 {
		shards = DefaultKeyLockShards
	}
	kl := &KeyLocker{shards: make([]chan struct{}, shards)}
	for i := range kl.shards {
		kl.shards[i] = make(chan struct{}, 1)
	}
	return kl
}

func (kl *KeyLocker) index(key Key) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return int(h.Sum32() % uint32(len(kl.shards)))
}

// Lock locks the shard of key and returns its unlock func.
// It gives up with ctx's error if ctx is done before the shard is free.
func (kl *KeyLocker) Lock(ctx context.Context, key Key) (unlock func(), err error) {
	return kl.LockAll(ctx, []Key{key})
}

// LockAll locks the shards of every key, always in ascending shard order, so that two callers
// with overlapping key sets cannot wait on each other. On error nothing stays locked.
func (kl *KeyLocker) LockAll(ctx context.Context, keys []Key) (unlock func(), err error) {
	seen := make(map[int]struct{}, len(keys))
	idxs := make([]int, 0, len(keys))
	for _, key := range keys {
		i := kl.index(key)
		if _, ok := seen[i]; !ok {
			seen[i] = struct{}{}
			idxs = append(idxs, i)
		}
	}
	sort.Ints(idxs)

	held := make([]int, 0, len(idxs))
	release := func() {
		for j := len(held) - 1; j >= 0; j-- {
			<-kl.shards[held[j]]
		}
	}
	for _, i := range idxs {
		if err := ctx.Err(); err != nil {
			release()
			return nil, err
		}
		select {
		case kl.shards[i] <- struct{}{}:
			held = append(held, i)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
