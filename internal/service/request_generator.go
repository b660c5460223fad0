package service

import (
	"math"
	"math/rand"
	"time"

	"github.com/surgery-scheduler-server/internal/domain"
)

// DefaultBatchSize is the number of requests in a generated batch.
const DefaultBatchSize = 40

var (
	surgeons          = []string{"Dr. Smith", "Dr. Johnson", "Dr. Wilson", "Dr. Martinez", "Dr. Chen"}
	anesthesiologists = []string{"Dr. Brown", "Dr. Davis", "Dr. Taylor"}
	nurses            = []string{"Nurse A", "Nurse B", "Nurse C", "Nurse D"}
	weekdays          = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}
	timePreferences   = []domain.TimePreference{domain.Morning, domain.Afternoon, domain.NoPreference}
	comorbidities     = []string{domain.NoComorbidities, "Hypertension", "Diabetes", "Obesity", "Heart Disease"}
)

// RequestGenerator produces placeholder surgery requests for demos and tests.
// The same source seed always yields the same batch. It is not safe for
// concurrent use.
type RequestGenerator struct {
	rng *rand.Rand
}

// NewRequestGenerator creates a generator drawing from src
func NewRequestGenerator(src rand.Source) *RequestGenerator {
	return &RequestGenerator{rng: rand.New(src)}
}

// NewSeededRequestGenerator creates a generator from a seed; zero seeds from the clock.
func NewSeededRequestGenerator(seed int64) *RequestGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return NewRequestGenerator(rand.NewSource(seed))
}

// Generate returns count requests.
func (g *RequestGenerator) Generate(count int) []domain.SurgeryRequest {
	if count < 0 {
		count = 0
	}
	requests := make([]domain.SurgeryRequest, count)
	for i := range requests {
		requests[i] = g.next()
	}
	return requests
}

func (g *RequestGenerator) next() domain.SurgeryRequest {
	types := SurgeryTypes()

	req := domain.SurgeryRequest{
		PatientAge:       g.between(18, 87),
		BMI:              math.Round((18+g.rng.Float64()*20)*10) / 10,
		SurgeryType:      types[g.rng.Intn(len(types))],
		Surgeon:          surgeons[g.rng.Intn(len(surgeons))],
		Anesthesiologist: anesthesiologists[g.rng.Intn(len(anesthesiologists))],
		Nurse:            nurses[g.rng.Intn(len(nurses))],
		DayOfWeek:        weekdays[g.rng.Intn(len(weekdays))],
		TimePreference:   timePreferences[g.rng.Intn(len(timePreferences))],
		PreOpPrepTime:    g.between(20, 39),
		TransferToORTime: g.between(10, 19),
		AnesthesiaTime:   g.between(15, 29),
		PositioningTime:  g.between(5, 14),
		Comorbidities:    comorbidities[g.rng.Intn(len(comorbidities))],
		InstrumentReady:  g.flag(0.8),
		PACUBedReady:     g.flag(0.9),
		ScheduledStart:   "09:00",
	}
	if g.rng.Float64() >= 0.5 {
		req.ScheduledStart = "13:00"
	}
	return req
}

// between returns a uniform integer in [lo, hi].
func (g *RequestGenerator) between(lo, hi int) int {
	return lo + g.rng.Intn(hi-lo+1)
}

func (g *RequestGenerator) flag(pReady float64) domain.ReadyFlag {
	if g.rng.Float64() < pReady {
		return domain.Ready
	}
	return domain.NotReady
}
