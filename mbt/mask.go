package mbt

import (
	"image"
	"image/color"
	"sort"

	"github.com/golang/geo/r2"
)

// maskGrayStep separates the gray levels of consecutive faces in the
// detection mask so the external tracker can tell them apart.
const maskGrayStep = 15

// buildVisibilityMask paints every projected face polygon, inset by border
// pixels, into an 8-bit mask handed to the external point tracker at
// initialization. Each face gets a distinct gray level so detected points
// can be attributed back to faces by region.
func buildVisibilityMask(width, height int, polys [][]r2.Point, border int) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, width, height))
	for i, poly := range polys {
		if poly == nil {
			continue
		}
		value := 255 - i*maskGrayStep
		if value < 1 {
			value = 1
		}
		fillPolygon(mask, insetPolygon(poly, border), uint8(value))
	}
	return mask
}

// insetPolygon moves every vertex toward the polygon centroid by border
// pixels, keeping detected points away from face edges.
func insetPolygon(poly []r2.Point, border int) []r2.Point {
	if border <= 0 {
		return poly
	}
	c := r2.Point{}
	for _, p := range poly {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(poly)))
	out := make([]r2.Point, len(poly))
	for i, p := range poly {
		d := c.Sub(p)
		n := d.Norm()
		if n <= float64(border) {
			out[i] = c
			continue
		}
		out[i] = p.Add(d.Mul(float64(border) / n))
	}
	return out
}

// fillPolygon paints the polygon interior into the mask with the given gray
// value using even-odd scanline filling.
func fillPolygon(mask *image.Gray, poly []r2.Point, value uint8) {
	minY, maxY := poly[0].Y, poly[0].Y
	for _, p := range poly {
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	bounds := mask.Bounds()
	y0 := int(minY)
	if y0 < bounds.Min.Y {
		y0 = bounds.Min.Y
	}
	y1 := int(maxY) + 1
	if y1 > bounds.Max.Y {
		y1 = bounds.Max.Y
	}

	var xs []float64
	for y := y0; y < y1; y++ {
		scan := float64(y) + 0.5
		xs = xs[:0]
		j := len(poly) - 1
		for i := 0; i < len(poly); i++ {
			pi, pj := poly[i], poly[j]
			if (pi.Y > scan) != (pj.Y > scan) {
				xs = append(xs, pi.X+(scan-pi.Y)*(pj.X-pi.X)/(pj.Y-pi.Y))
			}
			j = i
		}
		sort.Float64s(xs)
		for k := 0; k+1 < len(xs); k += 2 {
			x0 := int(xs[k])
			if x0 < bounds.Min.X {
				x0 = bounds.Min.X
			}
			x1 := int(xs[k+1]) + 1
			if x1 > bounds.Max.X {
				x1 = bounds.Max.X
			}
			for x := x0; x < x1; x++ {
				mask.SetGray(x, y, color.Gray{Y: value})
			}
		}
	}
}
