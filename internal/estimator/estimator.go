// Package estimator implements the one-dimensional, fixed-gain
// Kalman-style altitude estimator (spec.md §4.3): a three-state
// (altitude, velocity, acceleration) filter fusing one accelerometer
// axis and one barometer channel, scaled down from the teacher's
// fifteen-state EKF in internal/fusion/ekf.go to the single vertical
// axis this vehicle needs (spec.md Non-goals exclude multi-axis GNC).
package estimator

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Sea-level reference values for the ISA barometric formula.
const (
	seaLevelPressurePa = 101325.0
	seaLevelTempK      = 288.15
	tempLapseRate      = 0.0065 // K/m
	gasConstant        = 8.31446
	molarMassAir       = 0.0289644
	gravity            = 9.80665
	barometricExponent = gasConstant * tempLapseRate / (gravity * molarMassAir)
)

// State is the filter's authoritative three-component estimate. A
// single State value is threaded explicitly through every parachute
// controller tick; there is no module-level shadow copy (the original
// firmware's detectMainDeploymentAltitude bug, where a stale
// file-scope kalmanFilterState was read instead of the caller's own
// state parameter, does not exist in this design).
type State struct {
	Altitude     float64
	Velocity     float64
	Acceleration float64
}

// NewState creates the initial filter state: the launch-site altitude,
// zero velocity, zero acceleration (spec.md §3).
func NewState(launchSiteAltitudeM float64) State {
	return State{Altitude: launchSiteAltitudeM, Velocity: 0, Acceleration: 0}
}

// AsVector expresses a State as the gonum column vector x̂ = [altitude,
// velocity, acceleration]ᵀ that Step's predict/correct arithmetic
// actually operates on, mirroring the teacher's VecDense-backed state
// representation at a scale appropriate to three components instead of
// fifteen.
func (s State) AsVector() *mat.VecDense {
	return mat.NewVecDense(3, []float64{s.Altitude, s.Velocity, s.Acceleration})
}

func stateFromVector(v *mat.VecDense) State {
	return State{Altitude: v.AtVec(0), Velocity: v.AtVec(1), Acceleration: v.AtVec(2)}
}

// Gains are the fixed per-component correction gains blending
// prediction against measurement (spec.md §4.3: "fixed per-component
// gains, implementer's choice; document them"). Each tick the
// pressure-derived altitude pulls the predicted altitude 35% of the way
// toward itself, the accel-implied velocity corrects the predicted
// velocity by 25% of the difference, and the fresh accelerometer sample
// replaces 60% of the predicted acceleration.
//
// Unlike the teacher's ExtendedKalmanFilter, which re-derives its
// Kalman gain every Update from a propagated covariance (P, Q, a
// measurement's R, and S⁻¹ via Sinv.Inverse), this filter's gain is
// this fixed diagonal matrix, constant for the process lifetime — that
// fixed-ness is the feature spec.md §4.3 asks for, not a shortcut
// around the teacher's math. There is no covariance state to invert.
type Gains struct {
	AltitudeFromBaro float64 // weight given to the pressure-derived altitude
	Velocity         float64 // weight given to the accel-integrated velocity
	Acceleration     float64 // weight given to the fresh accelerometer sample
}

// DefaultGains returns the gains used absent an explicit tuning.
func DefaultGains() Gains {
	return Gains{
		AltitudeFromBaro: 0.35,
		Velocity:         0.25,
		Acceleration:     0.6,
	}
}

// AltitudeFromPressure converts a barometric pressure reading to
// altitude above sea level via the ISA barometric formula (spec.md
// §4.3). Step feeds this sea-level figure to the filter unchanged: the
// filter state is itself altitude above sea level (it starts at the
// launch-site altitude), so no launch-site offset is subtracted.
func AltitudeFromPressure(pressurePa float64) float64 {
	ratio := pressurePa / seaLevelPressurePa
	return (seaLevelTempK / tempLapseRate) * (1 - math.Pow(ratio, barometricExponent))
}

// Filter runs the fixed-gain predict/correct update described in
// spec.md §4.3, in the same matrix form as the teacher's general EKF
// (internal/fusion/ekf.go Predict/Update): a state-transition matrix F
// advances x̂, and a gain matrix K turns measurement innovation into a
// correction. Unlike the teacher's filter, this one is a stateless
// pure function over an explicit State — callers own threading state
// between ticks, which is what resolves the original firmware's
// stale-state defect — and K is fixed rather than covariance-derived.
type Filter struct {
	gains               Gains
	launchSiteAltitudeM float64
	gain                *mat.DiagDense // K: fixed 3x3 diagonal gain matrix
}

// New creates a Filter with the given gains and launch-site baseline.
func New(gains Gains, launchSiteAltitudeM float64) *Filter {
	return &Filter{
		gains:               gains,
		launchSiteAltitudeM: launchSiteAltitudeM,
		gain:                mat.NewDiagDense(3, []float64{gains.AltitudeFromBaro, gains.Velocity, gains.Acceleration}),
	}
}

// stateTransition builds F for a predict step of dtSeconds, mirroring
// the teacher's buildStateTransition but parameterized by the caller's
// own dt instead of a fixed ekf.dt: altitude integrates velocity and
// half the acceleration term, velocity integrates acceleration, and
// acceleration otherwise persists from the prior tick until the
// correct step overwrites it with the fresh sample.
func stateTransition(dtSeconds float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1, dtSeconds, 0.5 * dtSeconds * dtSeconds,
		0, 1, dtSeconds,
		0, 0, 1,
	})
}

// Step advances prev by dtSeconds using a fresh vertical-acceleration
// sample and a fresh barometric pressure sample. Per spec.md §4.3, if
// either sample is absent (ok=false) — the original firmware's -1
// sentinel — the whole tick is skipped and prev is returned unchanged;
// ok reports whether the step actually ran, so callers (e.g. the
// parachute controller's descent counter) can honor "no descent-count
// side effects occur" on a skipped tick.
//
// The predict step is x̂ = F * x̂ (via mat.VecDense.MulVec), exactly the
// teacher's Predict. The correct step measures each state component
// directly (H is the 3x3 identity, so it is left implicit: the
// measurement vector z itself is in state-space), so the innovation is
// y = z - x̂ and the correction is K * y (via mat.DiagDense.MulVec and
// mat.VecDense.AddVec), exactly the teacher's Update with its gain held
// fixed instead of recomputed from P, Hᵀ and Sinv.Inverse.
func (f *Filter) Step(prev State, dtSeconds float64, accelMeasured float64, accelOK bool, pressurePa float64, pressureOK bool) (next State, ok bool) {
	if !accelOK || !pressureOK {
		return prev, false
	}

	F := stateTransition(dtSeconds)

	var predicted mat.VecDense
	predicted.MulVec(F, prev.AsVector())

	// z: the three direct measurements this tick contributes, each in
	// the same units as the state component it corrects. The velocity
	// "measurement" is the IMU-integrated implied velocity (prior
	// velocity plus the fresh accel sample over dt) rather than a
	// sensor that reads velocity directly, since no such sensor exists
	// here; it still slots into the identity-H correction below.
	z := mat.NewVecDense(3, []float64{
		AltitudeFromPressure(pressurePa),
		prev.Velocity + accelMeasured*dtSeconds,
		accelMeasured,
	})

	var innovation mat.VecDense
	innovation.SubVec(z, &predicted)

	var correction mat.VecDense
	correction.MulVec(f.gain, &innovation)

	var corrected mat.VecDense
	corrected.AddVec(&predicted, &correction)

	return stateFromVector(&corrected), true
}
