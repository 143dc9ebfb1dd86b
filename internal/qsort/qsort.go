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


// A similarity search candidate: the patch dissimilarity of a neighbor,
// and the neighbor's row-major pixel index
type Candidate struct {
    Dist  float32
    Index int32
}

// Strict total order on candidates: by distance, ties broken by pixel index.
// Indices are unique within one search window, so no two candidates compare equal.
// Distances must not contain IEEE NaN
func CandidateLess(a, b Candidate) bool {
    return a.Dist<b.Dist || (a.Dist==b.Dist && a.Index<b.Index)
}

// Partially reorders the array so that a[:k] holds the k smallest candidates
// under CandidateLess. Selection only, no full sort; the total order makes the
// selected set deterministic for a fixed input. Requires 0 < k <= len(a).
// Distances must not contain IEEE NaN
func QSelectKSmallestCandidates(a []Candidate, k int) {
    left, right:=0, len(a)-1
    for left<right {
        // partition
        mid:=(left+right)>>1
        pivot := a[mid]
        l, r  := left-1, right+1
        for {
            for {
                l++
                if !CandidateLess(a[l], pivot) { break }
            }
            for {
                r--
                if !CandidateLess(pivot, a[r]) { break }
            }
            if l >= r { break } // index in r
            a[l], a[r] = a[r], a[l]
        }
        index:=r

        offset:=index-left+1
        if k<=offset {
            right=index
        } else {
            left=index+1
            k=k-offset
        }
    }
}


// Select kth lowest element from an array of float32. Partially reorders the array.
// Array must not contain IEEE NaN
func QSelectFloat32(a []float32, k int) float32 {
    left, right:=0, len(a)-1
    for left<right {
        // partition
        mid:=(left+right)>>1
        pivot := a[mid]
        l, r  := left-1, right+1
        for {
            for {
                l++
                if a[l]>=pivot { break }
            }
            for {
                r--
                if a[r]<=pivot { break }
            }
            if l >= r { break } // index in r
            a[l], a[r] = a[r], a[l]
        }
        index:=r

        offset:=index-left+1
        if k<=offset {
            right=index
        } else {
            left=index+1
            k=k-offset
        }
    }
    return a[left]
}


// Select median of an array of float32. Partially reorders the array.
// Array must not contain IEEE NaN
func QSelectMedianFloat32(a []float32) float32 {
    return QSelectFloat32(a, (len(a)>>1)+1)
}
