package saga

import (
	"math"
	"time"

	"github.com/draftea/saga-system/shared/models"
)

// Summary is the minimal view of a saga used for statistics
type Summary struct {
	SagaID          models.ID  `json:"sagaId"`
	Mode            string     `json:"mode"`
	BusinessProcess string     `json:"businessProcess"`
	Status          SagaStatus `json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// SummaryOfRun summarizes an orchestrated run
func SummaryOfRun(r *Run) Summary {
	return Summary{
		SagaID:          r.SagaID,
		Mode:            ModeOrchestrated,
		BusinessProcess: r.SagaType,
		Status:          r.Status(),
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
	}
}

// SummaryOfChoreography summarizes a choreographed saga
func SummaryOfChoreography(s *ChoreographedState) Summary {
	return Summary{
		SagaID:          s.SagaID,
		Mode:            ModeChoreographed,
		BusinessProcess: s.BusinessProcess,
		Status:          s.Status,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
	}
}

// Counts groups sagas by status
type Counts struct {
	Total       int `json:"total"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	InProgress  int `json:"inProgress"`
	Compensated int `json:"compensated"`
}

func (c *Counts) add(status SagaStatus) {
	c.Total++
	switch status {
	case StatusCompleted:
		c.Completed++
	case StatusFailed:
		c.Failed++
	case StatusCompensated:
		c.Compensated++
	case StatusInProgress:
		c.InProgress++
	}
}

// Statistics aggregates saga outcomes. Rates are percentages rounded to two decimals.
type Statistics struct {
	Counts
	SuccessRate       float64            `json:"successRate"`
	FailureRate       float64            `json:"failureRate"`
	CompensationRate  float64            `json:"compensationRate"`
	AverageDurationMs float64            `json:"averageDurationMs"`
	ByBusinessProcess map[string]*Counts `json:"byBusinessProcess"`
}

// ComputeStatistics aggregates saga summaries. Average duration only covers closed sagas.
func ComputeStatistics(summaries []Summary) *Statistics {
	stats := &Statistics{ByBusinessProcess: make(map[string]*Counts)}

	var totalDuration time.Duration
	closed := 0

	for _, s := range summaries {
		stats.add(s.Status)

		process := s.BusinessProcess
		if process == "" {
			process = "unknown"
		}
		counts, ok := stats.ByBusinessProcess[process]
		if !ok {
			counts = &Counts{}
			stats.ByBusinessProcess[process] = counts
		}
		counts.add(s.Status)

		if s.CompletedAt != nil {
			totalDuration += s.CompletedAt.Sub(s.StartedAt)
			closed++
		}
	}

	if stats.Total > 0 {
		stats.SuccessRate = percentage(stats.Completed, stats.Total)
		stats.FailureRate = percentage(stats.Failed, stats.Total)
		stats.CompensationRate = percentage(stats.Compensated, stats.Total)
	}
	if closed > 0 {
		avg := totalDuration / time.Duration(closed)
		stats.AverageDurationMs = round2(float64(avg) / float64(time.Millisecond))
	}

	return stats
}

func percentage(part, total int) float64 {
	return round2(float64(part) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
