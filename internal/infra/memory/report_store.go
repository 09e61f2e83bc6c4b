package memory

import (
	"context"
	"sync"

	"psychoprep-engine/internal/domain"
)

// StoredReport is a report plus the session metadata it was saved with.
type StoredReport struct {
	Report domain.ScoreReport
	Meta   domain.SessionMeta
}

// ReportStore keeps score reports in memory, newest last per user. It backs
// deployments without Postgres and the service-level tests.
type ReportStore struct {
	mu     sync.RWMutex
	byUser map[string][]StoredReport
	byTest map[string]StoredReport
}

func NewReportStore() *ReportStore {
	return &ReportStore{
		byUser: make(map[string][]StoredReport),
		byTest: make(map[string]StoredReport),
	}
}

func (s *ReportStore) SaveReport(_ context.Context, report domain.ScoreReport, meta domain.SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := StoredReport{Report: report, Meta: meta}
	s.byUser[meta.UserID] = append(s.byUser[meta.UserID], entry)
	s.byTest[report.TestID] = entry
	return nil
}

// ByUser returns all reports saved for a user, in save order.
func (s *ReportStore) ByUser(userID string) []StoredReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredReport, len(s.byUser[userID]))
	copy(out, s.byUser[userID])
	return out
}

// ByTest returns the report saved for a blueprint id.
func (s *ReportStore) ByTest(testID string) (StoredReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byTest[testID]
	if !ok {
		return StoredReport{}, domain.ErrReportNotFound
	}
	return entry, nil
}
