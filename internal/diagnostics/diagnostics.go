// Package diagnostics inspects the controller's prediction residuals and
// labels recurring error patterns and their severity.
package diagnostics

import (
	"math"

	"github.com/san-kum/hybridctl/internal/dynamo"
	"gonum.org/v1/gonum/floats"
)

type Pattern string

const (
	Nominal             Pattern = "nominal"
	SystematicOverpred  Pattern = "systematic_overprediction"
	SystematicUnderpred Pattern = "systematic_underprediction"
	Oscillation         Pattern = "oscillation"
)

type Severity string

const (
	SeverityNominal   Severity = "nominal"
	ResidualHigh      Severity = "residual_high"
	CriticalOvershoot Severity = "critical_overshoot"
)

// Classify needs MinHistory samples before it commits to a pattern and
// looks at the last Window of them.
const (
	MinHistory = 5
	Window     = 10

	BiasThreshold     = 2.0
	MaxSignChanges    = 4
	ResidualThreshold = 15.0
	CriticalThreshold = 30.0
)

// Residual splits a prediction miss into its position and velocity parts.
type Residual struct {
	PosError float64 `json:"pos_error"`
	VelError float64 `json:"vel_error"`
}

func Residuals(pred, actual dynamo.State) Residual {
	return Residual{
		PosError: math.Hypot(actual[dynamo.PosX]-pred[dynamo.PosX], actual[dynamo.PosY]-pred[dynamo.PosY]),
		VelError: math.Hypot(actual[dynamo.VelX]-pred[dynamo.VelX], actual[dynamo.VelY]-pred[dynamo.VelY]),
	}
}

// AlongTrack is the signed position miss projected on the measured
// direction of travel. Positive means the model expected the body to get
// further than it did. It is zero when the body is at rest.
func AlongTrack(pred, actual dynamo.State) float64 {
	vx, vy := actual[dynamo.VelX], actual[dynamo.VelY]
	speed := math.Hypot(vx, vy)
	if speed < 1e-9 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return 0
	}
	dx := pred[dynamo.PosX] - actual[dynamo.PosX]
	dy := pred[dynamo.PosY] - actual[dynamo.PosY]
	return (dx*vx + dy*vy) / speed
}

// Classify labels a history of signed residuals, oldest first.
func Classify(history []float64) Pattern {
	if len(history) < MinHistory {
		return Nominal
	}
	recent := history
	if len(recent) > Window {
		recent = recent[len(recent)-Window:]
	}

	mean := floats.Sum(recent) / float64(len(recent))
	switch {
	case mean > BiasThreshold:
		return SystematicOverpred
	case mean < -BiasThreshold:
		return SystematicUnderpred
	}

	changes := 0
	for i := 1; i < len(recent); i++ {
		if (recent[i] >= 0) != (recent[i-1] >= 0) {
			changes++
		}
	}
	if changes > MaxSignChanges {
		return Oscillation
	}
	return Nominal
}

// Grade maps a prediction error norm to a severity.
func Grade(predErr float64) Severity {
	switch {
	case predErr > CriticalThreshold:
		return CriticalOvershoot
	case predErr > ResidualThreshold:
		return ResidualHigh
	default:
		return SeverityNominal
	}
}
