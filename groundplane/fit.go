package groundplane

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// planeStats accumulates first and second moments of a point set so planes can be refit as
// clusters grow without revisiting their points.
type planeStats struct {
	n                      float64
	sum                    r3.Vector
	xx, xy, xz, yy, yz, zz float64
}

func (st *planeStats) add(p r3.Vector) {
	st.n++
	st.sum = st.sum.Add(p)
	st.xx += p.X * p.X
	st.xy += p.X * p.Y
	st.xz += p.X * p.Z
	st.yy += p.Y * p.Y
	st.yz += p.Y * p.Z
	st.zz += p.Z * p.Z
}

func (st *planeStats) merge(other *planeStats) {
	st.n += other.n
	st.sum = st.sum.Add(other.sum)
	st.xx += other.xx
	st.xy += other.xy
	st.xz += other.xz
	st.yy += other.yy
	st.yz += other.yz
	st.zz += other.zz
}

func (st *planeStats) centroid() r3.Vector {
	return st.sum.Mul(1 / st.n)
}

// fit returns the least squares plane through the accumulated points, oriented so that the
// camera origin lies on its positive side, and the RMS distance of the points to it.
func (st *planeStats) fit() (Plane, float64, bool) {
	if st.n < 3 {
		return NoPlane, 0, false
	}
	c := st.centroid()
	cov := mat.NewSymDense(3, []float64{
		st.xx/st.n - c.X*c.X, st.xy/st.n - c.X*c.Y, st.xz/st.n - c.X*c.Z,
		st.xy/st.n - c.X*c.Y, st.yy/st.n - c.Y*c.Y, st.yz/st.n - c.Y*c.Z,
		st.xz/st.n - c.X*c.Z, st.yz/st.n - c.Y*c.Z, st.zz/st.n - c.Z*c.Z,
	})

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return NoPlane, 0, false
	}
	// eigenvalues are ascending; the smallest one's vector is the normal
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	normal := r3.Vector{X: vectors.At(0, 0), Y: vectors.At(1, 0), Z: vectors.At(2, 0)}
	if normal.Norm() == 0 {
		return NoPlane, 0, false
	}
	normal = normal.Normalize()
	if normal.Dot(c) > 0 {
		normal = normal.Mul(-1)
	}

	plane := Plane{A: normal.X, B: normal.Y, C: normal.Z, D: -normal.Dot(c)}
	return plane, math.Sqrt(math.Max(values[0], 0)), true
}
