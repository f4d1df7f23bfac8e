package vecvis

import (
	"math"
	"strings"

	"github.com/wcharczuk/go-chart/v2/drawing"
)

// rdBu is the 11-class red-blue diverging scheme, red at 0 and blue at 1.
const rdBu = "67001fb2182bd6604df4a582fddbc7f7f7f7d1e5f092c5de4393c32166ac053061"

var rdBuColors = parseScheme(rdBu)

func parseScheme(s string) []drawing.Color {
	out := make([]drawing.Color, 0, len(s)/6)
	for i := 0; i+6 <= len(s); i += 6 {
		out = append(out, drawing.ColorFromHex(strings.ToLower(s[i:i+6])))
	}
	return out
}

// RdBu maps t in [0,1] onto the red-blue scheme with a uniform B-spline
// through the scheme colors. t outside [0,1] is clamped.
func RdBu(t float64) drawing.Color {
	return basisRamp(rdBuColors, t)
}

// Midpoint is the color every diverging scale assigns to its center value.
func Midpoint() drawing.Color {
	return RdBu(0.5)
}

func basisRamp(colors []drawing.Color, t float64) drawing.Color {
	n := len(colors) - 1
	var i int
	switch {
	case t <= 0:
		t = 0
		i = 0
	case t >= 1:
		t = 1
		i = n - 1
	default:
		i = int(math.Floor(t * float64(n)))
	}
	c1, c2 := colors[i], colors[i+1]
	c0 := reflect(c1, c2)
	if i > 0 {
		c0 = channels(colors[i-1])
	}
	c3 := reflect(c2, c1)
	if i < n-1 {
		c3 = channels(colors[i+2])
	}
	u := (t - float64(i)/float64(n)) * float64(n)
	a, b := channels(c1), channels(c2)
	var out [3]float64
	for k := 0; k < 3; k++ {
		out[k] = basis(u, c0[k], a[k], b[k], c3[k])
	}
	return drawing.Color{R: clampByte(out[0]), G: clampByte(out[1]), B: clampByte(out[2]), A: 255}
}

func basis(t1, v0, v1, v2, v3 float64) float64 {
	t2 := t1 * t1
	t3 := t2 * t1
	return ((1-3*t1+3*t2-t3)*v0 +
		(4-6*t2+3*t3)*v1 +
		(1+3*t1+3*t2-3*t3)*v2 +
		t3*v3) / 6
}

func channels(c drawing.Color) [3]float64 {
	return [3]float64{float64(c.R), float64(c.G), float64(c.B)}
}

// reflect extrapolates the control point beyond a: 2a - b.
func reflect(a, b drawing.Color) [3]float64 {
	ca, cb := channels(a), channels(b)
	return [3]float64{2*ca[0] - cb[0], 2*ca[1] - cb[1], 2*ca[2] - cb[2]}
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Diverging maps [Lo, Mid] onto [0, 0.5] and [Mid, Hi] onto [0.5, 1] of the
// interpolator. A collapsed half maps its whole side to the midpoint.
type Diverging struct {
	Lo, Mid, Hi float64
}

// SharedDomain is used when no per-dimension bounds are supplied.
var SharedDomain = Diverging{Lo: -1, Mid: 0, Hi: 1}

// At returns the color for v. ok is false for NaN, which is left unpainted.
func (d Diverging) At(v float64) (c drawing.Color, ok bool) {
	if math.IsNaN(v) {
		return drawing.Color{}, false
	}
	return RdBu(d.position(v)), true
}

func (d Diverging) position(v float64) float64 {
	if v == d.Mid {
		return 0.5
	}
	var k float64
	if (v < d.Mid) == (d.Mid >= d.Lo) {
		if d.Mid != d.Lo {
			k = 0.5 / (d.Mid - d.Lo)
		}
	} else if d.Hi != d.Mid {
		k = 0.5 / (d.Hi - d.Mid)
	}
	p := 0.5 + (v-d.Mid)*k
	if math.IsNaN(p) {
		return 0.5
	}
	return p
}
