package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/everettbu/chatsafe/internal/infrastructure/persistence/models"
	"github.com/everettbu/chatsafe/pkg/errors"
	"github.com/everettbu/chatsafe/pkg/safego"
)

// queueSize bounds how many pending usage rows may wait for the writer.
// When the queue is full, records are dropped rather than blocking the
// response path.
const queueSize = 256

// UsageRecord is one request's ledger entry.
type UsageRecord struct {
	RequestID        string    `json:"request_id"`
	Model            string    `json:"model"`
	ClientIP         string    `json:"client_ip"`
	Streaming        bool      `json:"streaming"`
	FinishReason     string    `json:"finish_reason,omitempty"`
	ErrorCategory    string    `json:"error_category,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	DurationMs       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// Totals aggregates the whole ledger.
type Totals struct {
	Requests         int64 `json:"requests"`
	Streaming        int64 `json:"streaming"`
	Errors           int64 `json:"errors"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Store writes usage records asynchronously and answers ledger queries.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	queue chan models.UsageModel
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewStore starts the background writer over an opened database.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	s := &Store{
		db:     db,
		logger: logger.With(zap.String("component", "usage-store")),
		queue:  make(chan models.UsageModel, queueSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	safego.Go(s.logger, "usage-store-writer", func() {
		defer s.wg.Done()
		s.run()
	})
	return s
}

// Record enqueues one ledger entry. It never blocks; a full queue drops
// the record with a warning.
func (s *Store) Record(rec UsageRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	select {
	case s.queue <- toModel(rec):
	default:
		s.logger.Warn("Usage queue full; record dropped", zap.String("request_id", rec.RequestID))
	}
}

func (s *Store) run() {
	for {
		select {
		case m := <-s.queue:
			s.insert(m)
		case <-s.done:
			for {
				select {
				case m := <-s.queue:
					s.insert(m)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) insert(m models.UsageModel) {
	if err := s.db.Create(&m).Error; err != nil {
		s.logger.Warn("Failed to write usage record",
			zap.String("request_id", m.RequestID),
			zap.Error(err),
		)
	}
}

// Totals aggregates counts and token sums over the whole ledger.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var row struct {
		Requests         int64
		PromptTokens     int64
		CompletionTokens int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.UsageModel{}).
		Select("COUNT(*) AS requests, COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens, COALESCE(SUM(completion_tokens), 0) AS completion_tokens").
		Scan(&row).Error
	if err != nil {
		return Totals{}, errors.NewInternalErrorWithCause("failed to read usage totals", err)
	}

	var streaming int64
	if err := s.db.WithContext(ctx).
		Model(&models.UsageModel{}).
		Where("streaming = ?", true).
		Count(&streaming).Error; err != nil {
		return Totals{}, errors.NewInternalErrorWithCause("failed to count streaming requests", err)
	}

	var failed int64
	if err := s.db.WithContext(ctx).
		Model(&models.UsageModel{}).
		Where("error_category <> ''").
		Count(&failed).Error; err != nil {
		return Totals{}, errors.NewInternalErrorWithCause("failed to count failed requests", err)
	}

	return Totals{
		Requests:         row.Requests,
		Streaming:        streaming,
		Errors:           failed,
		PromptTokens:     row.PromptTokens,
		CompletionTokens: row.CompletionTokens,
	}, nil
}

// Recent returns the newest records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]UsageRecord, error) {
	var rows []models.UsageModel
	err := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.NewInternalErrorWithCause("failed to read recent usage", err)
	}

	records := make([]UsageRecord, 0, len(rows))
	for _, m := range rows {
		records = append(records, toRecord(m))
	}
	return records, nil
}

// Close stops the writer after draining queued records. Queries remain
// usable afterwards.
func (s *Store) Close() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func toModel(rec UsageRecord) models.UsageModel {
	return models.UsageModel{
		RequestID:        rec.RequestID,
		Model:            rec.Model,
		ClientIP:         rec.ClientIP,
		Streaming:        rec.Streaming,
		FinishReason:     rec.FinishReason,
		ErrorCategory:    rec.ErrorCategory,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		DurationMs:       rec.DurationMs,
		CreatedAt:        rec.CreatedAt,
	}
}

func toRecord(m models.UsageModel) UsageRecord {
	return UsageRecord{
		RequestID:        m.RequestID,
		Model:            m.Model,
		ClientIP:         m.ClientIP,
		Streaming:        m.Streaming,
		FinishReason:     m.FinishReason,
		ErrorCategory:    m.ErrorCategory,
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		DurationMs:       m.DurationMs,
		CreatedAt:        m.CreatedAt,
	}
}
