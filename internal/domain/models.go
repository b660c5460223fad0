package domain

import (
	"time"
)

// SurgeryRequest is an unscheduled case awaiting placement.
type SurgeryRequest struct {
	PatientAge       int            `json:"patient_age"`
	BMI              float64        `json:"bmi"`
	SurgeryType      string         `json:"surgery_type"`
	Surgeon          string         `json:"surgeon"`
	Anesthesiologist string         `json:"anesthesiologist"`
	Nurse            string         `json:"nurse"`
	DayOfWeek        string         `json:"day_of_week"`
	TimePreference   TimePreference `json:"time_preference"`
	PreOpPrepTime    int            `json:"pre_op_prep_time"`
	TransferToORTime int            `json:"transfer_to_or_time"`
	AnesthesiaTime   int            `json:"anesthesia_time"`
	PositioningTime  int            `json:"positioning_time"`
	Comorbidities    string         `json:"comorbidities"`
	InstrumentReady  ReadyFlag      `json:"instrument_ready"`
	PACUBedReady     ReadyFlag      `json:"pacu_bed_ready"`
	ScheduledStart   string         `json:"scheduled_start"`
}

// ValidateTimes reports the first negative time field as a ValidationError.
func (r *SurgeryRequest) ValidateTimes() error {
	fields := []struct {
		name  string
		value int
	}{
		{"pre_op_prep_time", r.PreOpPrepTime},
		{"transfer_to_or_time", r.TransferToORTime},
		{"anesthesia_time", r.AnesthesiaTime},
		{"positioning_time", r.PositioningTime},
	}
	for _, f := range fields {
		if f.value < 0 {
			return NewValidationError(f.name, "must not be negative", f.value)
		}
	}
	return nil
}

// HasComorbidities reports whether a named condition is recorded.
func (r *SurgeryRequest) HasComorbidities() bool {
	return r.Comorbidities != NoComorbidities
}

// Prediction is the duration and delay estimate for one request.
type Prediction struct {
	DelayProbability  float64   `json:"delay_probability"`
	PredictedDelay    DelayRisk `json:"predicted_delay"`
	PredictedDuration int       `json:"predicted_duration"`
	DurationRange     string    `json:"duration_range"`
	RiskFactors       []string  `json:"risk_factors,omitempty"`
}

// ScheduledSurgery is a request placed on a date, hour and operating room.
type ScheduledSurgery struct {
	SurgeryType       string    `json:"surgery_type"`
	PatientAge        int       `json:"patient_age"`
	Surgeon           string    `json:"surgeon"`
	Anesthesiologist  string    `json:"anesthesiologist"`
	Nurse             string    `json:"nurse"`
	ScheduledDate     string    `json:"scheduled_date"`
	ScheduledTime     string    `json:"scheduled_time"`
	OperatingRoom     int       `json:"operating_room"`
	EstimatedDuration int       `json:"estimated_duration"`
	DelayRisk         DelayRisk `json:"delay_risk"`
	OriginalTime      string    `json:"original_time"`
}

// ScheduleRequest is the input of a scheduling call.
type ScheduleRequest struct {
	Surgeries []SurgeryRequest `json:"surgeries"`
	StartDate string           `json:"start_date"`
}

// ScheduleResponse wraps the ordered schedule.
type ScheduleResponse struct {
	Schedule []ScheduledSurgery `json:"schedule"`
	RunID    string             `json:"run_id,omitempty"`
}

// BatchImportResponse is returned by spreadsheet and generated batch imports.
type BatchImportResponse struct {
	ImportedCount int                `json:"imported_count"`
	Schedule      []ScheduledSurgery `json:"schedule"`
	Errors        []string           `json:"errors"`
	RunID         string             `json:"run_id,omitempty"`
}

// ScheduleRun is a persisted record of one scheduling call.
type ScheduleRun struct {
	ID            string             `json:"id"`
	Kind          RunKind            `json:"kind"`
	StartDate     string             `json:"start_date"`
	SurgeryCount  int                `json:"surgery_count"`
	HighRiskCount int                `json:"high_risk_count"`
	Schedule      []ScheduledSurgery `json:"schedule"`
	Errors        []string           `json:"errors,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// NewScheduleRun summarises a schedule into a run record.
func NewScheduleRun(kind RunKind, startDate string, schedule []ScheduledSurgery, errs []string) *ScheduleRun {
	run := &ScheduleRun{
		Kind:         kind,
		StartDate:    startDate,
		SurgeryCount: len(schedule),
		Schedule:     schedule,
		Errors:       errs,
	}
	for _, s := range schedule {
		if s.DelayRisk == HighRisk {
			run.HighRiskCount++
		}
	}
	return run
}

// PredictionRecord is an audit entry for one served prediction.
type PredictionRecord struct {
	ID                string    `json:"id"`
	RequestHash       string    `json:"request_hash"`
	SurgeryType       string    `json:"surgery_type"`
	PredictedDuration int       `json:"predicted_duration"`
	DelayProbability  float64   `json:"delay_probability"`
	DelayRisk         DelayRisk `json:"delay_risk"`
	CreatedAt         time.Time `json:"created_at"`
}

// ModelPerformance describes the parameters of the duration and delay model.
type ModelPerformance struct {
	Model                 string         `json:"model"`
	Description           string         `json:"description"`
	RiskFactors           []string       `json:"risk_factors"`
	RiskFactorWeight      float64        `json:"risk_factor_weight"`
	RiskThreshold         float64        `json:"risk_threshold"`
	BaseDurations         map[string]int `json:"base_durations"`
	DefaultDuration       int            `json:"default_duration"`
	AgeAdjustment         int            `json:"age_adjustment"`
	ComorbidityAdjustment int            `json:"comorbidity_adjustment"`
}
