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


package grad

import (
	"fmt"
)

// A single scalar plane of a 2D vector field, stored row-major.
// Pixel (x,y) lives at Data[y*Width+x].
type Plane struct {
	Width  int32       // Number of columns
	Height int32       // Number of rows

	Data   []float32   // The plane data, len Width*Height
}

// Creates a plane of the given dimensions with freshly allocated, zeroed data
func NewPlane(width, height int32) *Plane {
	return &Plane{
		Width:  width,
		Height: height,
		Data:   make([]float32, width*height),
	}
}

// Creates a plane of the given dimensions adopting the given data. Data is not copied, allocated if nil
func NewPlaneFromData(width, height int32, data []float32) *Plane {
	if data==nil {
		data=make([]float32, width*height)
	}
	return &Plane{
		Width:  width,
		Height: height,
		Data:   data,
	}
}

// Creates a deep copy of the plane
func (p *Plane) Clone() *Plane {
	data:=make([]float32, len(p.Data))
	copy(data, p.Data)
	return &Plane{
		Width:  p.Width,
		Height: p.Height,
		Data:   data,
	}
}

// Returns true if both planes have the same width and height
func (p *Plane) EqualShape(q *Plane) bool {
	return p.Width==q.Width && p.Height==q.Height
}

func (p *Plane) DimensionsToString() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}
