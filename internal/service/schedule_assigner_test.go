package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgery-scheduler-server/internal/domain"
)

func requestsWithPreference(n int, pref domain.TimePreference) []domain.SurgeryRequest {
	requests := make([]domain.SurgeryRequest, n)
	for i := range requests {
		requests[i] = baseRequest()
		requests[i].TimePreference = pref
	}
	return requests
}

func TestScheduleAssigner_Assign(t *testing.T) {
	assigner := NewScheduleAssigner(NewPredictionEngine())

	t.Run("rooms cycle and days bucket by eight", func(t *testing.T) {
		schedule, err := assigner.Assign(requestsWithPreference(10, domain.Morning), "2025-03-10")
		require.NoError(t, err)
		require.Len(t, schedule, 10)

		rooms := make([]int, len(schedule))
		for i, s := range schedule {
			rooms[i] = s.OperatingRoom
		}
		assert.Equal(t, []int{1, 2, 3, 4, 1, 2, 3, 4, 1, 2}, rooms)

		for i := 0; i < 8; i++ {
			assert.Equal(t, "2025-03-10", schedule[i].ScheduledDate, "index %d", i)
		}
		assert.Equal(t, "2025-03-11", schedule[8].ScheduledDate)
		assert.Equal(t, "2025-03-11", schedule[9].ScheduledDate)
	})

	t.Run("requests past the fifth day stay on the fifth day", func(t *testing.T) {
		schedule, err := assigner.Assign(requestsWithPreference(50, domain.Afternoon), "2025-03-10")
		require.NoError(t, err)
		assert.Equal(t, "2025-03-14", schedule[32].ScheduledDate)
		assert.Equal(t, "2025-03-14", schedule[45].ScheduledDate)
		assert.Equal(t, "2025-03-14", schedule[49].ScheduledDate)
	})

	t.Run("entries carry request and prediction fields", func(t *testing.T) {
		requests := requestsWithPreference(1, domain.Morning)
		requests[0].ScheduledStart = "13:00"

		schedule, err := assigner.Assign(requests, "2025-03-10")
		require.NoError(t, err)

		s := schedule[0]
		assert.Equal(t, "Hip Replacement", s.SurgeryType)
		assert.Equal(t, 45, s.PatientAge)
		assert.Equal(t, "Dr. Smith", s.Surgeon)
		assert.Equal(t, "Dr. Brown", s.Anesthesiologist)
		assert.Equal(t, "Nurse A", s.Nurse)
		assert.Equal(t, "07:00", s.ScheduledTime)
		assert.Equal(t, 165, s.EstimatedDuration)
		assert.Equal(t, domain.LowRisk, s.DelayRisk)
		assert.Equal(t, "13:00", s.OriginalTime)
	})

	t.Run("empty input yields empty schedule", func(t *testing.T) {
		schedule, err := assigner.Assign(nil, "2025-03-10")
		require.NoError(t, err)
		assert.NotNil(t, schedule)
		assert.Empty(t, schedule)
	})

	t.Run("month boundary", func(t *testing.T) {
		schedule, err := assigner.Assign(requestsWithPreference(9, domain.Morning), "2025-02-28")
		require.NoError(t, err)
		assert.Equal(t, "2025-03-01", schedule[8].ScheduledDate)
	})
}

func TestScheduleAssigner_InvalidInput(t *testing.T) {
	assigner := NewScheduleAssigner(NewPredictionEngine())

	tests := []struct {
		name      string
		requests  []domain.SurgeryRequest
		startDate string
		field     string
	}{
		{
			name:      "malformed date",
			requests:  requestsWithPreference(2, domain.Morning),
			startDate: "2025/03/10",
			field:     "start_date",
		},
		{
			name:      "impossible date",
			requests:  requestsWithPreference(2, domain.Morning),
			startDate: "2025-02-30",
			field:     "start_date",
		},
		{
			name: "negative field in a later request",
			requests: func() []domain.SurgeryRequest {
				r := requestsWithPreference(3, domain.Morning)
				r[2].PositioningTime = -1
				return r
			}(),
			startDate: "2025-03-10",
			field:     "positioning_time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule, err := assigner.Assign(tt.requests, tt.startDate)
			require.Error(t, err)
			assert.Nil(t, schedule)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestSlotHour(t *testing.T) {
	tests := []struct {
		pref domain.TimePreference
		i    int
		want int
	}{
		{domain.Morning, 0, 7},
		{domain.Morning, 3, 10},
		{domain.Morning, 4, 7},
		{domain.Afternoon, 1, 14},
		{domain.Afternoon, 7, 16},
		{domain.NoPreference, 0, 8},
		{domain.NoPreference, 1, 14},
		{domain.NoPreference, 2, 10},
		{domain.NoPreference, 3, 13},
		{domain.TimePreference("Evening"), 4, 9},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SlotHour(tt.pref, tt.i), "%s at %d", tt.pref, tt.i)
	}
}

func TestScheduleAssigner_HoursAreZeroPadded(t *testing.T) {
	assigner := NewScheduleAssigner(NewPredictionEngine())
	schedule, err := assigner.Assign(requestsWithPreference(4, domain.Morning), "2025-03-10")
	require.NoError(t, err)

	times := make([]string, len(schedule))
	for i, s := range schedule {
		times[i] = s.ScheduledTime
	}
	assert.Equal(t, []string{"07:00", "08:00", "09:00", "10:00"}, times)
}

func TestScheduleAssigner_DayOfWeekIgnored(t *testing.T) {
	assigner := NewScheduleAssigner(NewPredictionEngine())

	monday := requestsWithPreference(3, domain.NoPreference)
	friday := requestsWithPreference(3, domain.NoPreference)
	for i := range monday {
		monday[i].DayOfWeek = "Monday"
		friday[i].DayOfWeek = "Friday"
	}

	a, err := assigner.Assign(monday, "2025-03-12")
	require.NoError(t, err)
	b, err := assigner.Assign(friday, "2025-03-12")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "2025-03-12", a[0].ScheduledDate)
}
