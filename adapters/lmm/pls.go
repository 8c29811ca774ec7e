package lmm

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// response holds the cross-products of one response vector
type response struct {
	y   *mat.VecDense
	zty *mat.VecDense
	xty *mat.VecDense
	yty float64
}

func (s *structure) response(y []float64) *response {
	yv := mat.NewVecDense(len(y), append([]float64(nil), y...))
	r := &response{y: yv, yty: mat.Dot(yv, yv)}
	r.zty = mat.NewVecDense(s.q, nil)
	r.zty.MulVec(s.z.T(), yv)
	r.xty = mat.NewVecDense(s.p, nil)
	r.xty.MulVec(s.x.T(), yv)
	return r
}

// solution is the penalised least squares solution for one θ
type solution struct {
	deviance float64
	pwrss    float64
	beta     []float64
	u        []float64
	xtxInv   *mat.SymDense // (RXᵀRX)⁻¹, the unscaled covariance of β
}

var errNotPositiveDefinite = errors.New("matrix is not positive definite")

// evaluate solves the penalised least squares problem
//
//	min ‖y − Xβ − ZΛu‖² + ‖u‖²
//
// through the blocked Cholesky factorisation
//
//	L  Lᵀ = ΛᵀZᵀZΛ + I
//	RZX   = L⁻¹ΛᵀZᵀX
//	RXᵀRX = XᵀX − RZXᵀRZX
//
// and returns the profiled deviance. The ML deviance is
// log|L|² + n(1 + log(2π·pwrss/n)); REML adds log|RX|² and uses n − p.
func (s *structure) evaluate(theta []float64, r *response, reml bool, full bool) (*solution, error) {
	lambda := s.lambda(theta)

	var ztzl mat.Dense
	ztzl.Mul(s.ztz, lambda)
	var a mat.Dense
	a.Mul(lambda.T(), &ztzl)
	sym := mat.NewSymDense(s.q, nil)
	for i := 0; i < s.q; i++ {
		sym.SetSym(i, i, a.At(i, i)+1)
		for j := i + 1; j < s.q; j++ {
			sym.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	var cholA mat.Cholesky
	if !cholA.Factorize(sym) {
		return nil, errNotPositiveDefinite
	}
	var l mat.TriDense
	cholA.LTo(&l)

	// cu = L⁻¹ΛᵀZᵀy
	var ltzty mat.VecDense
	ltzty.MulVec(lambda.T(), r.zty)
	var cu mat.VecDense
	if err := solveTri(&cu, &l, &ltzty); err != nil {
		return nil, err
	}

	// RZX = L⁻¹ΛᵀZᵀX
	var ltztx mat.Dense
	ltztx.Mul(lambda.T(), s.ztx)
	var rzx mat.Dense
	if err := tolerateCondition(rzx.Solve(&l, &ltztx)); err != nil {
		return nil, err
	}

	var rzxtrzx mat.Dense
	rzxtrzx.Mul(rzx.T(), &rzx)
	xs := mat.NewSymDense(s.p, nil)
	for i := 0; i < s.p; i++ {
		for j := i; j < s.p; j++ {
			xs.SetSym(i, j, s.xtx.At(i, j)-0.5*(rzxtrzx.At(i, j)+rzxtrzx.At(j, i)))
		}
	}
	var cholX mat.Cholesky
	if !cholX.Factorize(xs) {
		return nil, errNotPositiveDefinite
	}

	// β = (RXᵀRX)⁻¹(Xᵀy − RZXᵀcu)
	var rhs mat.VecDense
	rhs.MulVec(rzx.T(), &cu)
	rhs.SubVec(r.xty, &rhs)
	var beta mat.VecDense
	if err := tolerateCondition(cholX.SolveVecTo(&beta, &rhs)); err != nil {
		return nil, err
	}

	pwrss := r.yty - mat.Dot(&cu, &cu) - mat.Dot(&rhs, &beta)
	if !(pwrss > 0) || math.IsInf(pwrss, 0) {
		return nil, errNotPositiveDefinite
	}

	n := float64(s.n)
	dev := cholA.LogDet()
	if reml {
		dof := n - float64(s.p)
		dev += cholX.LogDet() + dof*(1+math.Log(2*math.Pi*pwrss/dof))
	} else {
		dev += n * (1 + math.Log(2*math.Pi*pwrss/n))
	}

	sol := &solution{deviance: dev, pwrss: pwrss, beta: beta.RawVector().Data}
	if !full {
		return sol, nil
	}

	// u = L⁻ᵀ(cu − RZXβ)
	var rzxb mat.VecDense
	rzxb.MulVec(&rzx, &beta)
	rzxb.SubVec(&cu, &rzxb)
	var u mat.VecDense
	if err := solveTri(&u, l.T(), &rzxb); err != nil {
		return nil, err
	}
	sol.u = append([]float64(nil), u.RawVector().Data...)
	sol.beta = append([]float64(nil), sol.beta...)

	sol.xtxInv = mat.NewSymDense(s.p, nil)
	if err := tolerateCondition(cholX.InverseTo(sol.xtxInv)); err != nil {
		return nil, err
	}
	return sol, nil
}

func solveTri(dst *mat.VecDense, t mat.Matrix, b mat.Vector) error {
	return tolerateCondition(dst.SolveVec(t, b))
}

// tolerateCondition accepts ill-conditioned but finite solutions
func tolerateCondition(err error) error {
	var cond mat.Condition
	if errors.As(err, &cond) && !math.IsInf(float64(cond), 1) {
		return nil
	}
	return err
}
