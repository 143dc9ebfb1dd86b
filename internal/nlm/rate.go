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

	"github.com/mlberg/gradnlm/internal/grad"
)

// Maps a gradient vector field into the Poisson count domain. Per-pixel
// magnitudes sqrt(gx^2+gy^2) are scaled linearly so the image-wide mean rate
// matches countTargetMean, and clipped at zero. Returns the rate plane, its
// box average over the (2*patchRadius+1)^2 window, and the scale factor
// applied. A fully flat field has zero mean magnitude; the scale then
// defaults to 1 and all rates are zero.
func EstimateRates(gx, gy *grad.Plane, patchRadius int32, countTargetMean float32) (lam, lamHat *grad.Plane, countScale float32) {
	lam=grad.NewPlane(gx.Width, gx.Height)

	sum:=float64(0)
	for i, x:=range gx.Data {
		y:=gy.Data[i]
		mag:=float32(math.Sqrt(float64(x)*float64(x) + float64(y)*float64(y)))
		lam.Data[i]=mag
		sum+=float64(mag)
	}

	countScale=float32(1)
	if len(lam.Data)>0 {
		mean:=sum/float64(len(lam.Data))
		if mean>1e-12 {
			countScale=countTargetMean/float32(mean)
		}
	}

	for i, mag:=range lam.Data {
		l:=mag*countScale
		if l<0 { l=0 }
		lam.Data[i]=l
	}

	lamHat=BoxAverage(lam, patchRadius)
	return lam, lamHat, countScale
}

// Calculates the box average of the plane over a (2*radius+1)^2 window
// centered on each pixel. At the borders the window is clamped to the plane
// bounds and the average taken over the in-bounds subset, not zero-padded.
// Returns a newly allocated plane.
func BoxAverage(p *grad.Plane, radius int32) *grad.Plane {
	res:=grad.NewPlane(p.Width, p.Height)
	width, height:=p.Width, p.Height

	for y:=int32(0); y<height; y++ {
		yLo, yHi:=y-radius, y+radius
		if yLo<0        { yLo=0        }
		if yHi>height-1 { yHi=height-1 }
		for x:=int32(0); x<width; x++ {
			xLo, xHi:=x-radius, x+radius
			if xLo<0       { xLo=0       }
			if xHi>width-1 { xHi=width-1 }

			sum:=float64(0)
			for yy:=yLo; yy<=yHi; yy++ {
				for xx:=xLo; xx<=xHi; xx++ {
					sum+=float64(p.Data[yy*width+xx])
				}
			}
			count:=(yHi-yLo+1)*(xHi-xLo+1)
			res.Data[y*width+x]=float32(sum/float64(count))
		}
	}
	return res
}
