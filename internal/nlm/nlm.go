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
	"fmt"
	"io"
	"math"
	"runtime"
	"time"

	"github.com/mlberg/gradnlm/internal/grad"
	"github.com/mlberg/gradnlm/internal/qsort"
)

// Floor for the weighting denominator, to avoid division by zero on
// near-zero local rates
const epsLam = 1e-8

// Non-local means filter over a gradient field under the Poisson L2
// distance. Replaces each interior pixel's gradient vector with a
// similarity-weighted average of the gradient vectors in its search window,
// where similarity compares the local Poisson rate patches of the pixels.
type OpPoissonNLM struct {
	SearchRadius    int32   `json:"searchRadius"`    // candidate window half-size
	PatchRadius     int32   `json:"patchRadius"`     // patch half-size, side is 2*patchRadius+1
	Rho             float32 `json:"rho"`             // weighting smoothness, larger is smoother
	CountTargetMean float32 `json:"countTargetMean"` // image-wide mean Poisson rate to scale to
	LamQuant        float32 `json:"lamQuant"`        // rate quantization step for the distance cache
	TopK            int32   `json:"topK"`            // keep only the K most similar candidates, <=0 keeps all
	MaxThreads      int     `json:"maxThreads"`      // parallel workers, <=0 uses GOMAXPROCS

	// Optional shared distance cache; nil allocates a fresh one per call.
	// An injected table quantizes with its own step, not with LamQuant;
	// callers sharing a table across calls must create it with the step
	// they validate against.
	Table *DistTable `json:"-"`
}

// Creates a Poisson NLM operator with the reference defaults
func NewOpPoissonNLM() *OpPoissonNLM {
	return &OpPoissonNLM{
		SearchRadius:    5,
		PatchRadius:     1,
		Rho:             1.5,
		CountTargetMean: 30,
		LamQuant:        0.02,
		TopK:            0,
	}
}

// Rejects out-of-range parameters before any computation starts
func (op *OpPoissonNLM) valid() error {
	if op.SearchRadius<0    { return fmt.Errorf("invalid search radius %d, must be >=0", op.SearchRadius) }
	if op.PatchRadius<0     { return fmt.Errorf("invalid patch radius %d, must be >=0",  op.PatchRadius) }
	if op.Rho<=0            { return fmt.Errorf("invalid rho %g, must be >0",             op.Rho) }
	if op.CountTargetMean<=0 { return fmt.Errorf("invalid count target mean %g, must be >0", op.CountTargetMean) }
	if op.LamQuant<=0       { return fmt.Errorf("invalid rate quantization step %g, must be >0", op.LamQuant) }
	return nil
}

// Applies the filter to the gradient field given by the two planes.
// Returns newly allocated output planes of the same shape and the rate scale
// factor derived by the rate estimator. Border pixels within patchRadius of
// any edge pass through unchanged. The inputs are not modified.
// Output is bit-reproducible for a fixed input regardless of MaxThreads.
func (op *OpPoissonNLM) Apply(gx, gy *grad.Plane, logWriter io.Writer) (outGx, outGy *grad.Plane, countScale float32, err error) {
	if logWriter==nil { logWriter=io.Discard }
	if err=op.valid(); err!=nil { return nil, nil, 0, err }
	if !gx.EqualShape(gy) {
		return nil, nil, 0, fmt.Errorf("gradient plane shapes differ: %s vs %s", gx.DimensionsToString(), gy.DimensionsToString())
	}

	start:=time.Now()
	_, lamHat, countScale:=EstimateRates(gx, gy, op.PatchRadius, op.CountTargetMean)

	// Borders pass through; the interior loop overwrites the rest
	outGx, outGy=gx.Clone(), gy.Clone()

	width, height:=gx.Width, gx.Height
	pr:=op.PatchRadius
	if 2*pr+1>width || 2*pr+1>height {
		// no pixel has a fully interior patch, the whole field passes through
		fmt.Fprintf(logWriter, "NLM: %s field has no interior for patch radius %d, passing through\n",
		            gx.DimensionsToString(), pr)
		return outGx, outGy, countScale, nil
	}

	table:=op.Table
	if table==nil { table=NewDistTable(op.LamQuant) }

	threads:=op.MaxThreads
	if threads<=0 { threads=runtime.GOMAXPROCS(0) }
	interiorRows:=int(height-2*pr)
	if threads>interiorRows { threads=interiorRows }

	// Workers own disjoint bands of output rows; all shared inputs are read-only
	// except the distance table, which is concurrency-safe
	chunk:=int32((interiorRows+threads-1)/threads)
	limiter:=make(chan bool, threads)
	for yMin:=pr; yMin<height-pr; yMin+=chunk {
		yMax:=yMin+chunk
		if yMax>height-pr { yMax=height-pr }
		limiter <- true
		go func(yMin, yMax int32) {
			defer func() { <-limiter }()
			op.filterRows(gx, gy, lamHat, outGx, outGy, table, yMin, yMax)
		}(yMin, yMax)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for workers to finish
		limiter <- true
	}

	fmt.Fprintf(logWriter, "NLM: filtered %s field with sr=%d pr=%d rho=%g topK=%d on %d threads in %v; countScale=%.4g, %d cached distances\n",
	            gx.DimensionsToString(), op.SearchRadius, pr, op.Rho, op.TopK, threads, time.Since(start), countScale, table.Len())
	return outGx, outGy, countScale, nil
}

// Filters the interior pixels of the output rows [yMin, yMax).
// Runs on one worker; owns its output rows exclusively.
func (op *OpPoissonNLM) filterRows(gx, gy, lamHat, outGx, outGy *grad.Plane, table *DistTable, yMin, yMax int32) {
	width, height:=gx.Width, gx.Height
	pr, sr:=op.PatchRadius, op.SearchRadius

	// scratch, reused across pixels of this band
	window:=2*sr+1
	cands:=make([]qsort.Candidate, 0, window*window)
	weights:=make([]float64, 0, window*window)

	for y:=yMin; y<yMax; y++ {
		for x:=pr; x<width-pr; x++ {
			lamBar:=patchMean(lamHat, x, y, pr)
			if lamBar<epsLam { lamBar=epsLam }
			denom:=float64(op.Rho)*float64(lamBar)

			// scan the search window, keeping candidate patches fully interior.
			// This shrinks the effective window near the edges on purpose.
			cyLo, cyHi:=y-sr, y+sr+1
			if cyLo<pr        { cyLo=pr        }
			if cyHi>height-pr { cyHi=height-pr }
			cxLo, cxHi:=x-sr, x+sr+1
			if cxLo<pr       { cxLo=pr       }
			if cxHi>width-pr { cxHi=width-pr }

			cands=cands[:0]
			for cy:=cyLo; cy<cyHi; cy++ {
				for cx:=cxLo; cx<cxHi; cx++ {
					d:=patchDistance(lamHat, x, y, cx, cy, pr, table)
					cands=append(cands, qsort.Candidate{Dist: d, Index: cy*width+cx})
				}
			}

			if op.TopK>0 && int32(len(cands))>op.TopK {
				qsort.QSelectKSmallestCandidates(cands, int(op.TopK))
				cands=cands[:op.TopK]
			}

			weights=weights[:0]
			sumW:=float64(0)
			for _, c:=range cands {
				w:=math.Exp(-float64(c.Dist)/denom)
				weights=append(weights, w)
				sumW+=w
			}
			if sumW<=0 {
				// all weights underflowed to zero, fall back to a uniform average
				for i:=range weights { weights[i]=1 }
				sumW=float64(len(weights))
			}

			gxVal, gyVal:=float64(0), float64(0)
			for i, c:=range cands {
				w:=weights[i]/sumW
				gxVal+=w*float64(gx.Data[c.Index])
				gyVal+=w*float64(gy.Data[c.Index])
			}
			outGx.Data[y*width+x]=float32(gxVal)
			outGy.Data[y*width+x]=float32(gyVal)
		}
	}
}
