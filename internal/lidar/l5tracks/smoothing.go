package l5tracks

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// minSmoothTime keeps omega finite when a zero smoothing time is configured.
const minSmoothTime = 1e-4

// SmoothDamp moves current toward target as a critically damped spring that
// reaches the target in roughly smoothTime seconds. velocity carries the
// spring state between calls and is updated in place. maxSpeed caps the
// approach speed (use +Inf for no cap). The result never overshoots target.
func SmoothDamp(current, target r2.Vec, velocity *r2.Vec, smoothTime, maxSpeed, dt float64) r2.Vec {
	if dt <= 0 {
		return current
	}
	smoothTime = math.Max(minSmoothTime, smoothTime)
	omega := 2 / smoothTime

	x := omega * dt
	decay := 1 / (1 + x + 0.48*x*x + 0.235*x*x*x)

	change := r2.Sub(current, target)
	original := target

	maxChange := maxSpeed * smoothTime
	if n := r2.Norm(change); n > maxChange {
		change = r2.Scale(maxChange/n, change)
	}
	target = r2.Sub(current, change)

	temp := r2.Scale(dt, r2.Add(*velocity, r2.Scale(omega, change)))
	*velocity = r2.Scale(decay, r2.Sub(*velocity, r2.Scale(omega, temp)))
	out := r2.Add(target, r2.Scale(decay, r2.Add(change, temp)))

	// Clamp if we passed the original target.
	if r2.Dot(r2.Sub(original, current), r2.Sub(out, original)) > 0 {
		out = original
		*velocity = r2.Vec{}
	}
	return out
}
