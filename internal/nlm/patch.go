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
	"github.com/mlberg/gradnlm/internal/grad"
)

// Calculates the patch-to-patch dissimilarity between the (2*pr+1)^2 patch
// centered on (x,y) and the one centered on (cx,cy), as the sum of the
// distance table lookups at every patch offset. Both patches must lie fully
// inside the plane; the search loop guarantees this.
func patchDistance(lamHat *grad.Plane, x, y, cx, cy, pr int32, table *DistTable) float32 {
	width:=lamHat.Width
	sum:=float32(0)
	for j:=-pr; j<=pr; j++ {
		rowX:=(y +j)*width + x
		rowC:=(cy+j)*width + cx
		for i:=-pr; i<=pr; i++ {
			sum+=table.Distance(lamHat.Data[rowX+i], lamHat.Data[rowC+i])
		}
	}
	return sum
}

// Calculates the mean of the plane over the (2*pr+1)^2 patch centered on (x,y).
// The patch must lie fully inside the plane.
func patchMean(p *grad.Plane, x, y, pr int32) float32 {
	width:=p.Width
	sum:=float64(0)
	for j:=-pr; j<=pr; j++ {
		row:=(y+j)*width + x
		for i:=-pr; i<=pr; i++ {
			sum+=float64(p.Data[row+i])
		}
	}
	side:=2*pr+1
	return float32(sum/float64(side*side))
}
