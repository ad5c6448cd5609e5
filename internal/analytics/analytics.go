package analytics

import (
	"context"
	"sort"
	"time"

	"guardian/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type TopUser struct {
	UserID       string `json:"userId"`
	Points       int    `json:"points"`
	WarningCount int    `json:"warningCount"`
}

// Report summarizes recent moderation activity for the dashboard's stats
// view.
type Report struct {
	TotalEvents    int            `json:"totalEvents"`
	ByLevel        map[string]int `json:"byLevel"`
	ByEvent        map[string]int `json:"byEvent"`
	AutoPunishes   int            `json:"autoPunishes"`
	AIViolations   int            `json:"aiViolations"`
	TrackedUsers   int            `json:"trackedUsers"`
	MonitoredUsers int            `json:"monitoredUsers"`
	TotalPoints    int            `json:"totalPoints"`
	TopUsers       []TopUser      `json:"topUsers"`
}

func (s *Service) Report(ctx context.Context, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, since, 10000)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		ByLevel: make(map[string]int),
		ByEvent: make(map[string]int),
	}
	for _, log := range logs {
		report.TotalEvents++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	report.AutoPunishes = report.ByEvent["auto_punish"]
	report.AIViolations = report.ByEvent["ai_violation"]

	summaries, err := s.store.ListUserSummaries(ctx)
	if err != nil {
		return Report{}, err
	}
	for _, summary := range summaries {
		report.TrackedUsers++
		report.TotalPoints += summary.Points
		if summary.Monitored {
			report.MonitoredUsers++
		}
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Points > summaries[j].Points
	})
	for i := 0; i < len(summaries) && i < 5; i++ {
		if summaries[i].Points == 0 {
			break
		}
		report.TopUsers = append(report.TopUsers, TopUser{
			UserID:       summaries[i].UserID,
			Points:       summaries[i].Points,
			WarningCount: summaries[i].WarningCount,
		})
	}
	return report, nil
}
