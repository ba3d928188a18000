package service

import (
	"hash/fnv"
	"strconv"
	"sync"
)

const keyedLockStripes = 64

// keyedLock serializes work per (team, challenge) with a fixed set of mutexes.
// Distinct keys may share a stripe; that only costs parallelism.
type keyedLock struct {
	stripes [keyedLockStripes]sync.Mutex
}

func (l *keyedLock) lock(teamID, challengeID int64) func() {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.FormatInt(teamID, 10)))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(strconv.FormatInt(challengeID, 10)))
	m := &l.stripes[h.Sum64()%keyedLockStripes]
	m.Lock()
	return m.Unlock
}
