package service

import (
	"fmt"
	"math"

	"github.com/surgery-scheduler-server/internal/domain"
)

const (
	// DefaultTypeDuration is used for surgery types missing from the table.
	DefaultTypeDuration = 60

	// RiskFactorWeight is the delay probability added by each risk factor.
	RiskFactorWeight = 0.15
	// HighRiskThreshold is the probability above which a case is High Risk.
	HighRiskThreshold = 0.3

	elderlyAge            = 70
	elderlyAdjustment     = 15
	comorbidityAdjustment = 10
	obeseBMI              = 30
)

// typeDurations holds the procedure component of the predicted duration, in minutes.
var typeDurations = map[string]int{
	"Hip Replacement":     90,
	"Knee Replacement":    75,
	"Appendectomy":        45,
	"Cataract Surgery":    30,
	"Coronary Bypass":     180,
	"Spinal Fusion":       120,
	"Tonsillectomy":       40,
	"Gallbladder Removal": 60,
}

// SurgeryTypes returns the catalogue of known surgery types in a stable order.
func SurgeryTypes() []string {
	return []string{
		"Hip Replacement",
		"Knee Replacement",
		"Appendectomy",
		"Cataract Surgery",
		"Coronary Bypass",
		"Spinal Fusion",
		"Tonsillectomy",
		"Gallbladder Removal",
	}
}

// RiskFactor is one boolean indicator contributing to delay probability
type RiskFactor struct {
	Name      string
	Evaluator func(r *domain.SurgeryRequest) bool
}

// riskFactors are evaluated in this order and reported by name.
var riskFactors = []RiskFactor{
	{Name: "age_over_70", Evaluator: func(r *domain.SurgeryRequest) bool { return r.PatientAge > elderlyAge }},
	{Name: "bmi_over_30", Evaluator: func(r *domain.SurgeryRequest) bool { return r.BMI > obeseBMI }},
	{Name: "comorbidities", Evaluator: func(r *domain.SurgeryRequest) bool { return r.HasComorbidities() }},
	{Name: "instruments_not_ready", Evaluator: func(r *domain.SurgeryRequest) bool { return r.InstrumentReady == domain.NotReady }},
	{Name: "pacu_bed_not_ready", Evaluator: func(r *domain.SurgeryRequest) bool { return r.PACUBedReady == domain.NotReady }},
}

// PredictionEngine estimates surgery duration and delay risk with a fixed heuristic.
// It holds no mutable state and is safe for concurrent use.
type PredictionEngine struct{}

// NewPredictionEngine creates a new prediction engine
func NewPredictionEngine() *PredictionEngine {
	return &PredictionEngine{}
}

// Predict computes the prediction for a single request. It never fails:
// unknown surgery types use DefaultTypeDuration.
func (e *PredictionEngine) Predict(request *domain.SurgeryRequest) domain.Prediction {
	duration := e.PredictDuration(request)

	applied := make([]string, 0, len(riskFactors))
	for _, factor := range riskFactors {
		if factor.Evaluator(request) {
			applied = append(applied, factor.Name)
		}
	}

	probability := delayProbability(len(applied))
	risk := domain.LowRisk
	if probability > HighRiskThreshold {
		risk = domain.HighRisk
	}

	return domain.Prediction{
		DelayProbability:  probability,
		PredictedDelay:    risk,
		PredictedDuration: duration,
		DurationRange:     DurationRange(duration),
		RiskFactors:       applied,
	}
}

// PredictDuration returns the predicted duration in minutes.
func (e *PredictionEngine) PredictDuration(request *domain.SurgeryRequest) int {
	duration := request.PreOpPrepTime + request.TransferToORTime +
		request.AnesthesiaTime + request.PositioningTime
	duration += TypeDuration(request.SurgeryType)

	if request.PatientAge > elderlyAge {
		duration += elderlyAdjustment
	}
	if request.HasComorbidities() {
		duration += comorbidityAdjustment
	}
	return duration
}

// TypeDuration looks up the procedure duration of a surgery type.
func TypeDuration(surgeryType string) int {
	if d, ok := typeDurations[surgeryType]; ok {
		return d
	}
	return DefaultTypeDuration
}

// DurationRange formats the ±10% bracket around a duration. Bounds are
// rounded half away from zero, so 105 gives "95 - 116".
func DurationRange(duration int) string {
	low := int(math.Round(float64(duration) * 0.9))
	high := int(math.Round(float64(duration) * 1.1))
	return fmt.Sprintf("%d - %d", low, high)
}

// delayProbability is computed in hundredths so the result is the exact
// float nearest to count*0.15 and compares cleanly against the threshold.
func delayProbability(count int) float64 {
	return float64(count*15) / 100
}

// Performance describes the model parameters served by /model-performance.
func (e *PredictionEngine) Performance() *domain.ModelPerformance {
	durations := make(map[string]int, len(typeDurations))
	for k, v := range typeDurations {
		durations[k] = v
	}
	names := make([]string, len(riskFactors))
	for i, f := range riskFactors {
		names[i] = f.Name
	}

	return &domain.ModelPerformance{
		Model:                 "heuristic-v1",
		Description:           "Duration is the sum of preparation times, a per-procedure base and age/comorbidity adjustments; delay risk counts weighted risk factors.",
		RiskFactors:           names,
		RiskFactorWeight:      RiskFactorWeight,
		RiskThreshold:         HighRiskThreshold,
		BaseDurations:         durations,
		DefaultDuration:       DefaultTypeDuration,
		AgeAdjustment:         elderlyAdjustment,
		ComorbidityAdjustment: comorbidityAdjustment,
	}
}
