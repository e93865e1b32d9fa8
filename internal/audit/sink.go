package audit

import (
	"context"
	"sync"
	"time"

	"github.com/suteetoe/payroll/internal/model"
	"github.com/suteetoe/payroll/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const writeTimeout = 5 * time.Second

// Entry describes one change to record
type Entry struct {
	CompanyID   string
	EntityType  string
	EntityID    string
	Action      model.AuditAction
	PerformedBy string
	OldData     interface{}
	NewData     interface{}
}

// Recorder accepts audit entries. Record never fails from the caller's
// point of view.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Sink writes audit entries on a background goroutine
type Sink struct {
	db    *gorm.DB
	log   *zap.Logger
	queue chan model.AuditLog
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewSink starts the writer goroutine. Call Close to flush pending entries.
func NewSink(db *gorm.DB, log *zap.Logger, queueSize int) *Sink {
	if queueSize < 1 {
		queueSize = 1
	}
	s := &Sink{
		db:    db,
		log:   log,
		queue: make(chan model.AuditLog, queueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Record enqueues an entry. A full queue or a closed sink drops the entry.
func (s *Sink) Record(ctx context.Context, e Entry) {
	row, err := toRow(e)
	if err != nil {
		s.log.Error("Failed to encode audit log", zap.String("entity_id", e.EntityID), zap.Error(err))
		prometheus.RecordAuditWrite("failed")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.log.Warn("Audit sink closed, dropping entry", zap.String("entity_id", e.EntityID))
		prometheus.RecordAuditWrite("dropped")
		return
	}

	select {
	case s.queue <- row:
	default:
		s.log.Warn("Audit queue full, dropping entry",
			zap.String("entity_type", e.EntityType),
			zap.String("entity_id", e.EntityID))
		prometheus.RecordAuditWrite("dropped")
	}
}

// Close stops accepting entries and waits for queued ones to be written
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for row := range s.queue {
		s.write(row)
	}
}

func (s *Sink) write(row model.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.log.Error("Failed to create audit log",
			zap.String("entity_type", row.EntityType),
			zap.String("entity_id", row.EntityID),
			zap.Error(err))
		prometheus.RecordAuditWrite("failed")
		return
	}
	prometheus.RecordAuditWrite("written")
}

func toRow(e Entry) (model.AuditLog, error) {
	oldData, err := model.ToJSONB(e.OldData)
	if err != nil {
		return model.AuditLog{}, err
	}
	newData, err := model.ToJSONB(e.NewData)
	if err != nil {
		return model.AuditLog{}, err
	}
	return model.AuditLog{
		CompanyID:   e.CompanyID,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		Action:      e.Action,
		PerformedBy: e.PerformedBy,
		OldData:     oldData,
		NewData:     newData,
	}, nil
}
