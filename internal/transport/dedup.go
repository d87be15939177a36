package transport

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// announcementTTL is how long a seen announcement hash is retained.
	// Announcements relayed by several peers within this window are
	// delivered once.
	announcementTTL = 30 * time.Second

	// dedupSweepInterval is the interval between expiry sweeps.
	dedupSweepInterval = 5 * time.Second
)

// dedup filters re-broadcast announcements by content hash.
type dedup struct {
	seen map[[32]byte]int64 // seen maps content hash to unix-nano timestamp
	mu   sync.RWMutex
	ttl  int64
	stop chan struct{}
	wg   sync.WaitGroup
}

func newDedup() *dedup {
	d := &dedup{
		seen: make(map[[32]byte]int64),
		ttl:  int64(announcementTTL),
		stop: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.sweepLoop()

	return d
}

// check reports whether the payload is new, recording it if so.
func (d *dedup) check(data []byte) bool {
	hash := blake3.Sum256(data)
	now := time.Now().UnixNano()

	d.mu.RLock()
	ts, exists := d.seen[hash]
	d.mu.RUnlock()

	if exists && now-ts < d.ttl {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Re-check: another goroutine may have recorded it meanwhile.
	if ts, exists := d.seen[hash]; exists && now-ts < d.ttl {
		return false
	}

	d.seen[hash] = now

	return true
}

func (d *dedup) close() {
	close(d.stop)
	d.wg.Wait()
}

func (d *dedup) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(dedupSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweep()
		case <-d.stop:
			return
		}
	}
}

func (d *dedup) sweep() {
	now := time.Now().UnixNano()

	d.mu.Lock()
	for hash, ts := range d.seen {
		if now-ts >= d.ttl {
			delete(d.seen, hash)
		}
	}
	d.mu.Unlock()
}
