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


package qsort

import (
	"sort"
	"testing"
	"github.com/valyala/fastrand"
)


func TestMedian(t *testing.T) {
	rng:=fastrand.RNG{}
	for i:=1; i<1000; i++ {
		// prepare array of given length with a random permutation of 1..n
		arr:=make([]float32, i)
		for j:=0; j<len(arr); j++ {
			arr[j]=float32(j+1)
		}
		for j:=0; j<len(arr); j++ {
			k:=rng.Uint32n(uint32(len(arr)))
			arr[j], arr[k] = arr[k], arr[j]
		}

		// calculate actual result and compare. for even lengths this
		// selects the upper of the two middle elements
		expect:=float32((i>>1)+1)
		res:=QSelectFloat32(arr, (i>>1)+1)
		if res!=expect {
			t.Logf("kselect middle of permutation of 1..%d got %f expect %f\n", i, res, expect)
			t.Fail()
		}
	}
}

func TestSelectKSmallestCandidates(t *testing.T) {
	rng:=fastrand.RNG{}
	rng.Seed(1)
	for i:=1; i<300; i++ {
		// random distances with deliberate duplicates, unique indices
		cands:=make([]Candidate, i)
		for j:=range cands {
			cands[j]=Candidate{Dist: float32(rng.Uint32n(uint32(i/4+1))), Index: int32(j)}
		}
		k:=1+int(rng.Uint32n(uint32(i)))

		// expected set from a full sort under the same total order
		expect:=make([]Candidate, i)
		copy(expect, cands)
		sort.Slice(expect, func(a, b int) bool { return CandidateLess(expect[a], expect[b]) })

		QSelectKSmallestCandidates(cands, k)

		got:=make([]Candidate, k)
		copy(got, cands[:k])
		sort.Slice(got, func(a, b int) bool { return CandidateLess(got[a], got[b]) })
		for j:=0; j<k; j++ {
			if got[j]!=expect[j] {
				t.Fatalf("n=%d k=%d: selected[%d]=%+v; want %+v", i, k, j, got[j], expect[j])
			}
		}
	}
}

// All-equal distances must select the lowest scan indices, the tie-break
// that keeps top-K pruning deterministic
func TestSelectKSmallestCandidatesTieBreak(t *testing.T) {
	cands:=make([]Candidate, 20)
	for j:=range cands {
		cands[j]=Candidate{Dist: 1.5, Index: int32(19-j)} // reverse index order
	}
	QSelectKSmallestCandidates(cands, 5)
	for j:=0; j<5; j++ {
		if cands[j].Index>=5 {
			t.Errorf("selected index %d among the 5 smallest; want indices 0..4", cands[j].Index)
		}
	}
}

func TestCandidateLessIsTotalOrder(t *testing.T) {
	a:=Candidate{Dist: 1, Index: 3}
	b:=Candidate{Dist: 1, Index: 7}
	c:=Candidate{Dist: 2, Index: 1}
	if !CandidateLess(a, b) || CandidateLess(b, a) {
		t.Errorf("equal distances must order by index")
	}
	if !CandidateLess(b, c) || CandidateLess(c, b) {
		t.Errorf("distance must dominate index")
	}
	if CandidateLess(a, a) {
		t.Errorf("irreflexive order violated")
	}
}
