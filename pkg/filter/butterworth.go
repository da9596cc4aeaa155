package filter

import (
	"math"
	"math/cmplx"

	"github.com/spikeflow/spikeflow/pkg/errors"
)

// Digital Butterworth design via the analog prototype and the bilinear
// transform, matching the usual zpk pipeline: prototype poles, frequency
// transform (lp2lp / lp2hp / lp2bp), bilinear at fs=2, then expand the
// roots into transfer-function coefficients.

type zpk struct {
	z []complex128
	p []complex128
	k float64
}

// prototype returns the analog Butterworth lowpass prototype of the given
// order: unit gain, cutoff 1 rad/s, poles on the left-half unit circle.
func prototype(order int) zpk {
	p := make([]complex128, order)
	for i := 0; i < order; i++ {
		theta := math.Pi * float64(2*i+order+1) / float64(2*order)
		p[i] = cmplx.Exp(complex(0, theta))
	}
	return zpk{p: p, k: 1}
}

// warp pre-warps a normalized cutoff (0..1, Nyquist=1) for the bilinear
// transform at fs=2.
func warp(wn float64) float64 {
	return 4 * math.Tan(math.Pi*wn/2)
}

func lp2lp(proto zpk, wo float64) zpk {
	p := make([]complex128, len(proto.p))
	for i, pole := range proto.p {
		p[i] = pole * complex(wo, 0)
	}
	degree := len(proto.p) - len(proto.z)
	return zpk{p: p, k: proto.k * math.Pow(wo, float64(degree))}
}

func lp2hp(proto zpk, wo float64) zpk {
	p := make([]complex128, len(proto.p))
	prod := complex(1, 0)
	for i, pole := range proto.p {
		p[i] = complex(wo, 0) / pole
		prod *= -pole
	}
	// Zeros migrate to the origin, one per pole.
	z := make([]complex128, len(proto.p))
	return zpk{z: z, p: p, k: proto.k * real(complex(1, 0)/prod)}
}

func lp2bp(proto zpk, wo, bw float64) zpk {
	degree := len(proto.p) - len(proto.z)
	p := make([]complex128, 0, 2*len(proto.p))
	for _, pole := range proto.p {
		scaled := pole * complex(bw/2, 0)
		d := cmplx.Sqrt(scaled*scaled - complex(wo*wo, 0))
		p = append(p, scaled+d, scaled-d)
	}
	z := make([]complex128, len(proto.p))
	return zpk{z: z, p: p, k: proto.k * math.Pow(bw, float64(degree))}
}

// bilinear maps analog poles/zeros to the z-plane at fs=2.
func bilinear(analog zpk) zpk {
	const fs2 = 4.0 // 2*fs

	zd := make([]complex128, 0, len(analog.p))
	pd := make([]complex128, len(analog.p))

	num := complex(1, 0)
	den := complex(1, 0)
	for _, zero := range analog.z {
		zd = append(zd, (complex(fs2, 0)+zero)/(complex(fs2, 0)-zero))
		num *= complex(fs2, 0) - zero
	}
	for i, pole := range analog.p {
		pd[i] = (complex(fs2, 0) + pole) / (complex(fs2, 0) - pole)
		den *= complex(fs2, 0) - pole
	}

	// Any zeros at infinity land at z=-1.
	for len(zd) < len(pd) {
		zd = append(zd, complex(-1, 0))
	}

	return zpk{z: zd, p: pd, k: analog.k * real(num/den)}
}

// poly expands roots into monic polynomial coefficients, highest power first.
func poly(roots []complex128) []complex128 {
	coeffs := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(coeffs)+1)
		for i, c := range coeffs {
			next[i] += c
			next[i+1] -= c * r
		}
		coeffs = next
	}
	return coeffs
}

func realCoeffs(cs []complex128) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = real(c)
	}
	return out
}

// design produces (b, a) transfer-function coefficients for a digital
// Butterworth filter. Cutoffs are normalized to Nyquist (0 < wn < 1).
func design(kind Kind, order int, low, high float64) (b, a []float64, err error) {
	if order <= 0 {
		return nil, nil, errors.New(errors.CodeInvalidFormat, "filter order must be positive").
			WithContext("order", order)
	}

	proto := prototype(order)
	var digital zpk

	switch kind {
	case Lowpass:
		if high <= 0 || high >= 1 {
			return nil, nil, errors.New(errors.CodeInvalidFormat, "cutoff outside (0, 1)").
				WithContext("cutoff", high)
		}
		digital = bilinear(lp2lp(proto, warp(high)))
	case Highpass:
		if low <= 0 || low >= 1 {
			return nil, nil, errors.New(errors.CodeInvalidFormat, "cutoff outside (0, 1)").
				WithContext("cutoff", low)
		}
		digital = bilinear(lp2hp(proto, warp(low)))
	case Bandpass:
		if low <= 0 || high >= 1 || low >= high {
			return nil, nil, errors.New(errors.CodeInvalidFormat, "band edges outside (0, 1)").
				WithContext("low", low).
				WithContext("high", high)
		}
		w1, w2 := warp(low), warp(high)
		digital = bilinear(lp2bp(proto, math.Sqrt(w1*w2), w2-w1))
	default:
		return nil, nil, errors.New(errors.CodeInvalidFormat, "unsupported filter kind").
			WithContext("kind", string(kind))
	}

	b = realCoeffs(poly(digital.z))
	for i := range b {
		b[i] *= digital.k
	}
	a = realCoeffs(poly(digital.p))

	for _, v := range append(append([]float64{}, b...), a...) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, errors.New(errors.CodeInvalidFormat, "unstable filter coefficients")
		}
	}
	return b, a, nil
}

// lfilter runs a direct form II transposed IIR filter over x with initial
// state zi (may be nil for zero state). a[0] is assumed to be 1.
func lfilter(b, a, x, zi []float64) []float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	bb := make([]float64, n)
	aa := make([]float64, n)
	copy(bb, b)
	copy(aa, a)

	z := make([]float64, n-1)
	copy(z, zi)

	y := make([]float64, len(x))
	for i, xv := range x {
		yv := bb[0]*xv + z[0]
		for j := 0; j < n-2; j++ {
			z[j] = bb[j+1]*xv + z[j+1] - aa[j+1]*yv
		}
		z[n-2] = bb[n-1]*xv - aa[n-1]*yv
		y[i] = yv
	}
	return y
}

// lfilterZI computes the filter's steady-state response to a unit step, so
// filtfilt can start each pass without a transient. Solves
// (I - companion(a)^T) zi = b[1:] - a[1:]*b[0].
func lfilterZI(b, a []float64) ([]float64, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	bb := make([]float64, n)
	aa := make([]float64, n)
	copy(bb, b)
	copy(aa, a)

	dim := n - 1
	m := make([][]float64, dim)
	rhs := make([]float64, dim)
	for i := 0; i < dim; i++ {
		m[i] = make([]float64, dim)
		m[i][0] = aa[i+1]
		if i == 0 {
			m[i][0] += 1
		}
		if i > 0 {
			m[i][i] = 1
		}
		if i < dim-1 {
			m[i][i+1] -= 1
		}
		rhs[i] = bb[i+1] - aa[i+1]*bb[0]
	}

	return solve(m, rhs)
}

// solve performs Gaussian elimination with partial pivoting. The systems here
// are tiny (filter order, at most 2*order for bandpass).
func solve(m [][]float64, rhs []float64) ([]float64, error) {
	n := len(rhs)
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(m[row][col]) > math.Abs(m[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(m[pivot][col]) < 1e-300 {
			return nil, errors.New(errors.CodeInvalidFormat, "singular steady-state system")
		}
		m[col], m[pivot] = m[pivot], m[col]
		rhs[col], rhs[pivot] = rhs[pivot], rhs[col]

		for row := col + 1; row < n; row++ {
			f := m[row][col] / m[col][col]
			for k := col; k < n; k++ {
				m[row][k] -= f * m[col][k]
			}
			rhs[row] -= f * rhs[col]
		}
	}

	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		sum := rhs[row]
		for k := row + 1; k < n; k++ {
			sum -= m[row][k] * x[k]
		}
		x[row] = sum / m[row][row]
	}
	return x, nil
}

// filtfilt applies the filter forward and backward for zero phase distortion.
// The input is extended on both ends by odd reflection before filtering and
// the extension stripped afterwards.
func filtfilt(b, a, x []float64) ([]float64, error) {
	ntaps := len(a)
	if len(b) > ntaps {
		ntaps = len(b)
	}
	padlen := 3 * (ntaps - 1)
	if len(x) <= padlen {
		return nil, errors.New(errors.CodeInvalidFormat, "input shorter than filter padding").
			WithContext("len", len(x)).
			WithContext("padlen", padlen)
	}

	ext := make([]float64, 0, len(x)+2*padlen)
	for i := padlen; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := len(x) - 2; i >= len(x)-1-padlen; i-- {
		ext = append(ext, 2*x[len(x)-1]-x[i])
	}

	zi, err := lfilterZI(b, a)
	if err != nil {
		return nil, err
	}

	scaled := make([]float64, len(zi))
	for i, v := range zi {
		scaled[i] = v * ext[0]
	}
	y := lfilter(b, a, ext, scaled)

	reverse(y)
	for i, v := range zi {
		scaled[i] = v * y[0]
	}
	y = lfilter(b, a, y, scaled)
	reverse(y)

	out := make([]float64, len(x))
	copy(out, y[padlen:padlen+len(x)])

	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New(errors.CodeInvalidFormat, "non-finite filter output")
		}
	}
	return out, nil
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
