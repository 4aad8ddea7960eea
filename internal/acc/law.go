package acc

import "github.com/e7canasta/acc-pipeline/internal/params"

// LawResult is the output of one evaluation of the control law.
type LawResult struct {
	TargetSpeed float64    // Vset for this cycle
	Errors      [3]float64 // Vset minus Vn, Vn1, Vn2
	Command     float64    // dM
}

// EvaluateLaw runs the three-tap weighted-error controller on a snapshot.
//
// When the gap is at least the minimum safe distance the reference returns
// to cruise speed; otherwise it steps down from the previous reference by
// the speed step, once per cycle.
func EvaluateLaw(r params.Record) LawResult {
	target := r.CruiseSpeed
	if r.Distance < r.MinDistance {
		target = r.TargetSpeed - r.SpeedStep
	}

	res := LawResult{
		TargetSpeed: target,
		Errors: [3]float64{
			target - r.Speed,
			target - r.Speed1,
			target - r.Speed2,
		},
	}
	res.Command = r.K1*res.Errors[0] + r.K2*res.Errors[1] + r.K3*res.Errors[2]
	return res
}
