package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/internal/queue"
)

// ErrDispatchUnavailable is returned when async dispatch has no queue.
var ErrDispatchUnavailable = errors.New("async dispatch is not configured")

// EnqueueExecution publishes req on the request topic and returns at once.
// A request ID is assigned when req has none.
func (s *Service) EnqueueExecution(ctx context.Context, req domain.ExecutionRequest) (*domain.EnqueueResponse, error) {
	if s.queue == nil {
		return nil, ErrDispatchUnavailable
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = s.newID()
	}

	msg := domain.ExecutionMessage{
		RequestID:  req.RequestID,
		Mode:       req.Mode,
		CaseIDs:    req.CaseIDs,
		EnqueuedAt: s.now(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if _, err := s.queue.Publish(ctx, queue.TopicExecutionRequests, payload); err != nil {
		return nil, fmt.Errorf("publish execution request: %w", err)
	}

	s.logger.Info("execution enqueued", "request_id", msg.RequestID, "mode", msg.Mode, "case_ids", msg.CaseIDs)
	return &domain.EnqueueResponse{
		RequestID:  msg.RequestID,
		Mode:       msg.Mode,
		CaseIDs:    msg.CaseIDs,
		EnqueuedAt: msg.EnqueuedAt,
	}, nil
}

// HandleExecutionMessage consumes one delivery of the request topic.
//
// Undecodable or invalid messages are logged and acknowledged so they are
// not redelivered forever. A request that already has a history record is
// not executed again; its result is republished instead. Infrastructure
// failures are returned so the queue redelivers the message.
func (s *Service) HandleExecutionMessage(ctx context.Context, m queue.Message) error {
	logger := s.logger.With("message_id", m.ID, "attempt", m.Attempts)

	var msg domain.ExecutionMessage
	if err := json.Unmarshal(m.Payload, &msg); err != nil {
		logger.Error("dropping undecodable execution message", "error", err)
		return nil
	}
	req := msg.Request()
	if req.RequestID == "" {
		req.RequestID = m.ID
	}
	logger = logger.With("request_id", req.RequestID)
	if err := req.Validate(); err != nil {
		logger.Error("dropping invalid execution message", "error", err)
		return nil
	}

	existing, err := s.store.GetHistoryByRequestID(ctx, req.RequestID)
	if err != nil {
		return fmt.Errorf("check history for request %s: %w", req.RequestID, err)
	}
	if existing != nil {
		logger.Info("request already executed, republishing result", "execution_id", existing.ExecutionID)
		return s.publishResult(ctx, notificationFromRecord(existing, s.now()))
	}

	outcome, err := s.Execute(ctx, req)
	switch {
	case errors.Is(err, domain.ErrCaseNotFound):
		logger.Warn("requested case does not exist", "error", err)
		return s.publishResult(ctx, domain.ResultNotification{
			RequestID: req.RequestID,
			Mode:      req.Mode,
			CaseIDs:   req.CaseIDs,
			Status:    domain.ExecutionStatusError,
			ErrorKind: domain.ErrorKindCaseNotFound,
			Summary:   err.Error(),
			Timestamp: s.now(),
		})
	case err != nil:
		return err
	}

	logger.Info("async execution finished", "execution_id", outcome.ExecutionID, "status", outcome.Result.Status)
	return nil
}

// publishOutcome announces a finished run on the result topic, or hands it
// straight to the sinks when no queue is configured. Failures are only
// logged: the run and its history record already exist.
func (s *Service) publishOutcome(ctx context.Context, o *domain.ExecutionOutcome) {
	n := notificationFromOutcome(o, s.now())
	if s.queue == nil {
		s.deliver(context.WithoutCancel(ctx), n)
		return
	}
	if err := s.publishResult(context.WithoutCancel(ctx), n); err != nil {
		s.logger.Warn("failed to publish execution result", "execution_id", o.ExecutionID, "error", err)
	}
}

func (s *Service) publishResult(ctx context.Context, n domain.ResultNotification) error {
	if s.queue == nil {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := s.queue.Publish(ctx, queue.TopicExecutionResults, payload); err != nil {
		return fmt.Errorf("publish execution result: %w", err)
	}
	return nil
}

// HandleResultMessage fans one result notification out to every sink. Sink
// failures are logged and never cause redelivery.
func (s *Service) HandleResultMessage(ctx context.Context, m queue.Message) error {
	var n domain.ResultNotification
	if err := json.Unmarshal(m.Payload, &n); err != nil {
		s.logger.Error("dropping undecodable result message", "message_id", m.ID, "error", err)
		return nil
	}
	s.deliver(ctx, n)
	return nil
}

func (s *Service) deliver(ctx context.Context, n domain.ResultNotification) {
	for _, sink := range s.sinks {
		if err := sink.Deliver(ctx, n); err != nil {
			s.logger.Warn("result sink failed", "sink", sink.Name(), "request_id", n.RequestID, "execution_id", n.ExecutionID, "error", err)
		}
	}
}

// RunExecutionConsumer runs the configured number of request workers until
// ctx is done.
func (s *Service) RunExecutionConsumer(ctx context.Context) error {
	if s.queue == nil {
		return ErrDispatchUnavailable
	}
	workers := s.config.ConsumerWorkers
	if workers < 1 {
		workers = 1
	}
	s.logger.Info("execution consumer started", "topic", queue.TopicExecutionRequests, "workers", workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return s.queue.Subscribe(gctx, queue.TopicExecutionRequests, s.HandleExecutionMessage)
		})
	}
	return g.Wait()
}

// RunResultConsumer feeds result notifications to the sinks until ctx is done.
func (s *Service) RunResultConsumer(ctx context.Context) error {
	if s.queue == nil {
		return ErrDispatchUnavailable
	}
	s.logger.Info("result consumer started", "topic", queue.TopicExecutionResults, "sinks", len(s.sinks))
	return s.queue.Subscribe(ctx, queue.TopicExecutionResults, s.HandleResultMessage)
}
