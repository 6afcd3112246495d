// Package events delivers manipulation findings and discrepancy reports
// to the append-only security event sink. The core only writes; nothing
// in this layer reads events back.
package events

import (
	"context"
	"sync"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// Sink is the write-only destination for security events.
type Sink interface {
	PublishFinding(ctx context.Context, finding *models.ManipulationFinding) error
	PublishDiscrepancy(ctx context.Context, report *models.DiscrepancyReport) error
	Close() error
}

// MemorySink collects events in memory for tests and local runs.
type MemorySink struct {
	mu            sync.Mutex
	findings      []*models.ManipulationFinding
	discrepancies []*models.DiscrepancyReport
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) PublishFinding(_ context.Context, finding *models.ManipulationFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, finding)
	return nil
}

func (s *MemorySink) PublishDiscrepancy(_ context.Context, report *models.DiscrepancyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discrepancies = append(s.discrepancies, report)
	return nil
}

// Findings returns a copy of the collected findings.
func (s *MemorySink) Findings() []*models.ManipulationFinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ManipulationFinding, len(s.findings))
	copy(out, s.findings)
	return out
}

// Discrepancies returns a copy of the collected reports.
func (s *MemorySink) Discrepancies() []*models.DiscrepancyReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.DiscrepancyReport, len(s.discrepancies))
	copy(out, s.discrepancies)
	return out
}

func (s *MemorySink) Close() error { return nil }
