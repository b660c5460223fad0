package service

import (
	"fmt"
	"time"

	"github.com/surgery-scheduler-server/internal/domain"
)

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

const (
	surgeriesPerDay = 8
	maxDayOffset    = 4
	roomCount       = 4

	morningFirstHour   = 7
	afternoonFirstHour = 13
	preferenceSlots    = 4

	// No-preference cases alternate between these two blocks.
	floatingMorningHour   = 8
	floatingAfternoonHour = 13
	floatingSlots         = 3
)

// ScheduleAssigner places surgery requests on dates, hours and operating rooms.
// Placement depends only on a request's position and time preference; rooms
// are not checked for double-booking.
type ScheduleAssigner struct {
	predictor domain.Predictor
}

// NewScheduleAssigner creates a new schedule assigner using the given predictor
func NewScheduleAssigner(predictor domain.Predictor) *ScheduleAssigner {
	return &ScheduleAssigner{predictor: predictor}
}

// Assign schedules requests starting at startDate (yyyy-MM-dd). The result is
// index-aligned with requests. Any invalid input fails the whole call.
func (a *ScheduleAssigner) Assign(requests []domain.SurgeryRequest, startDate string) ([]domain.ScheduledSurgery, error) {
	start, err := ParseStartDate(startDate)
	if err != nil {
		return nil, err
	}
	return a.AssignFrom(requests, start)
}

// AssignFrom is Assign with an already parsed start date.
func (a *ScheduleAssigner) AssignFrom(requests []domain.SurgeryRequest, start time.Time) ([]domain.ScheduledSurgery, error) {
	for i := range requests {
		if err := requests[i].ValidateTimes(); err != nil {
			return nil, fmt.Errorf("surgery %d: %w", i, err)
		}
	}

	schedule := make([]domain.ScheduledSurgery, len(requests))
	for i := range requests {
		req := &requests[i]
		prediction := a.predictor.Predict(req)

		schedule[i] = domain.ScheduledSurgery{
			SurgeryType:       req.SurgeryType,
			PatientAge:        req.PatientAge,
			Surgeon:           req.Surgeon,
			Anesthesiologist:  req.Anesthesiologist,
			Nurse:             req.Nurse,
			ScheduledDate:     SlotDate(start, i).Format(DateLayout),
			ScheduledTime:     fmt.Sprintf("%02d:00", SlotHour(req.TimePreference, i)),
			OperatingRoom:     OperatingRoom(i),
			EstimatedDuration: prediction.PredictedDuration,
			DelayRisk:         prediction.PredictedDelay,
			OriginalTime:      req.ScheduledStart,
		}
	}
	return schedule, nil
}

// ParseStartDate parses a yyyy-MM-dd date, reporting failures as invalid input.
func ParseStartDate(startDate string) (time.Time, error) {
	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		return time.Time{}, domain.NewValidationError("start_date", "must be a calendar date in YYYY-MM-DD format", startDate)
	}
	return start, nil
}

// SlotDate returns the day for the i-th request: eight per day, with every
// request past the fifth day landing on the fifth day.
func SlotDate(start time.Time, i int) time.Time {
	offset := i / surgeriesPerDay
	if offset > maxDayOffset {
		offset = maxDayOffset
	}
	return start.AddDate(0, 0, offset)
}

// SlotHour returns the start hour for the i-th request.
func SlotHour(pref domain.TimePreference, i int) int {
	switch pref {
	case domain.Morning:
		return morningFirstHour + i%preferenceSlots
	case domain.Afternoon:
		return afternoonFirstHour + i%preferenceSlots
	default:
		if i%2 == 0 {
			return floatingMorningHour + i%floatingSlots
		}
		return floatingAfternoonHour + i%floatingSlots
	}
}

// OperatingRoom returns the 1-based room for the i-th request.
func OperatingRoom(i int) int {
	return i%roomCount + 1
}
