package livehttp

import (
	"sort"
	"sync"

	"crest/internal/types"
)

// StatusBoard 收集各品种最近一轮的状态快照。
// 交易循环写入副本，观察端读出副本，双方从不共享引用；
// 版本号由布告板按品种单调递增。
type StatusBoard struct {
	mu    sync.RWMutex
	snaps map[string]types.StatusSnapshot
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{snaps: make(map[string]types.StatusSnapshot)}
}

// Publish 覆盖该品种的快照并递增版本号。
func (b *StatusBoard) Publish(snap types.StatusSnapshot) {
	if snap.Symbol == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	snap.Version = b.snaps[snap.Symbol].Version + 1
	b.snaps[snap.Symbol] = snap
}

// Snapshot 返回该品种的最新快照。
func (b *StatusBoard) Snapshot(sym string) (types.StatusSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.snaps[sym]
	return snap, ok
}

// All 返回全部快照，按品种名排序。
func (b *StatusBoard) All() []types.StatusSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.StatusSnapshot, 0, len(b.snaps))
	for _, snap := range b.snaps {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
