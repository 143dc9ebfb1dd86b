// Copyright (C) 2025 Martin L. Berg
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package nlm

import (
	"math"
	"sync"
)

const numDistShards = 64

// A memoized table of L2 distances between pairs of Poisson distributions,
// keyed by their quantized rate parameters. Safe for concurrent use by many
// workers; sharded so the fast path takes only a per-shard read lock.
// Entries grow for the life of the table and are never evicted; call Clear
// to reset between unrelated images.
type DistTable struct {
	quant  float32
	shards [numDistShards]distShard
}

type distShard struct {
	lock sync.RWMutex
	m    map[uint64]float32
}

// Creates a distance table with the given quantization step, which must be >0
func NewDistTable(quant float32) *DistTable {
	t:=&DistTable{quant: quant}
	for i:=range t.shards {
		t.shards[i].m=make(map[uint64]float32)
	}
	return t
}

// Returns the quantization step the table was created with
func (t *DistTable) Quant() float32 {
	return t.quant
}

// Rounds a non-negative rate to its quantization index, i.e. the nearest multiple of the quantization step
func (t *DistTable) quantize(lam float32) uint32 {
	return uint32(math.Round(float64(lam)/float64(t.quant)))
}

// Packs two quantization indices into a canonical, order-independent cache key.
// Ordering the pair makes table symmetry exact and doubles the hit rate.
func distKey(qx, qy uint32) uint64 {
	if qx>qy { qx, qy = qy, qx }
	return uint64(qx)<<32 | uint64(qy)
}

func (t *DistTable) shardFor(key uint64) *distShard {
	return &t.shards[(key*0x9e3779b97f4a7c15)>>(64-6)]
}

// Returns the L2 distance between the Poisson distributions with the given rates,
// both quantized to the table step. Computes and caches the value on a miss.
// Concurrent misses on the same key may compute it more than once; the result is
// identical either way and the last write wins.
func (t *DistTable) Distance(lamX, lamY float32) float32 {
	qx, qy:=t.quantize(lamX), t.quantize(lamY)
	if qx==0 && qy==0 { return 0 }
	key:=distKey(qx, qy)
	shard:=t.shardFor(key)

	shard.lock.RLock()
	d, ok:=shard.m[key]
	shard.lock.RUnlock()
	if ok { return d }

	d=poissonL2Distance(float64(qx)*float64(t.quant), float64(qy)*float64(t.quant))

	shard.lock.Lock()
	shard.m[key]=d
	shard.lock.Unlock()
	return d
}

// Removes all cached entries, e.g. between images with very different rate distributions
func (t *DistTable) Clear() {
	for i:=range t.shards {
		shard:=&t.shards[i]
		shard.lock.Lock()
		shard.m=make(map[uint64]float32)
		shard.lock.Unlock()
	}
}

// Returns the total number of cached entries
func (t *DistTable) Len() int {
	n:=0
	for i:=range t.shards {
		shard:=&t.shards[i]
		shard.lock.RLock()
		n+=len(shard.m)
		shard.lock.RUnlock()
	}
	return n
}

// Calculates sum_r (p(r;lamX) - p(r;lamY))^2 over the discrete Poisson
// probability mass functions. Uses the stable forward recurrence
// p(0)=e^-lam, p(r)=p(r-1)*lam/r, and truncates at
// Rmax = ceil(lamMax + 6*sqrt(lamMax)), beyond which the remaining tail
// mass is numerically negligible. Accumulates in float64.
func poissonL2Distance(lamX, lamY float64) float32 {
	lamMax:=lamX
	if lamY>lamMax { lamMax=lamY }
	if lamMax<=0 { return 0 }

	rMax:=int(math.Ceil(lamMax + 6*math.Sqrt(lamMax)))
	px, py:=math.Exp(-lamX), math.Exp(-lamY)
	diff:=px-py
	sum:=diff*diff
	for r:=1; r<=rMax; r++ {
		px*=lamX/float64(r)
		py*=lamY/float64(r)
		diff=px-py
		sum+=diff*diff
	}
	return float32(sum)
}
