// Package service implements execution orchestration and async dispatch.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/testexec/internal/config"
	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/internal/guard"
	"github.com/xiaot623/gogo/testexec/internal/materializer"
	"github.com/xiaot623/gogo/testexec/internal/queue"
	"github.com/xiaot623/gogo/testexec/internal/runner"
)

// Store is the persistence collaborator used by the service.
type Store interface {
	materializer.CaseStore
	AppendHistory(ctx context.Context, rec *domain.HistoryRecord) error
	GetHistoryByExecutionID(ctx context.Context, executionID string) (*domain.HistoryRecord, error)
	GetHistoryByRequestID(ctx context.Context, requestID string) (*domain.HistoryRecord, error)
	ListHistoryForCase(ctx context.Context, caseID int64, limit int) ([]domain.HistoryRecord, error)
}

// ReportPublisher uploads a generated report directory and returns its URL.
type ReportPublisher interface {
	PublishReport(ctx context.Context, executionID, dir string) (string, error)
}

// ResultSink receives every result notification.
type ResultSink interface {
	Name() string
	Deliver(ctx context.Context, n domain.ResultNotification) error
}

type Service struct {
	store        Store
	guard        *guard.Guard
	runner       *runner.Runner
	materializer *materializer.Materializer
	queue        queue.Queue
	publisher    ReportPublisher
	sinks        []ResultSink
	config       *config.Config
	logger       *slog.Logger

	now   func() time.Time
	newID func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithQueue enables async dispatch and result publication.
func WithQueue(q queue.Queue) Option {
	return func(s *Service) { s.queue = q }
}

// WithReportPublisher uploads generated reports.
func WithReportPublisher(p ReportPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithResultSinks registers the sinks fed by the result consumer.
func WithResultSinks(sinks ...ResultSink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, g *guard.Guard, r *runner.Runner, m *materializer.Materializer, cfg *config.Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:        store,
		guard:        g,
		runner:       r,
		materializer: m,
		config:       cfg,
		logger:       logger,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
