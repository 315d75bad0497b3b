package activity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultRecentLimit = 50

var errMissingDatabase = errors.New("activity: database handle is required")

// ServiceConfig configures the activity log.
type ServiceConfig struct {
	Database   *gorm.DB
	Dispatcher *Dispatcher
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service persists admin-visible activity events and feeds the live stream.
// Writes are best-effort: a failed insert is logged, and the event is still
// published to live subscribers.
type Service struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	clock      func() time.Time
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, dispatcher: dispatcher, clock: clock, logger: logger}, nil
}

// Dispatcher exposes the live stream for SSE subscribers.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Record writes one event and publishes it to live subscribers.
func (s *Service) Record(ctx context.Context, kind, transactionID, detail string) {
	event := Event{
		ID:            uuid.NewString(),
		Kind:          kind,
		TransactionID: transactionID,
		Detail:        detail,
		CreatedAt:     s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		s.logger.Warn("activity event write failed", zap.String("kind", kind), zap.Error(err))
	}
	s.dispatcher.Publish(event)
}

// Recent returns up to limit events, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	events := make([]Event, 0, limit)
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
