package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/dineline/pkg/errorsx"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when the durable store has no matching record.
var ErrNotFound = errors.New("record not found")

var errLinkLost = errors.New("order link taken concurrently")

// Config selects the SQLite database used for durable state.
type Config struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	LogQueries   bool   `mapstructure:"log_queries"`
}

// Store is the durable source of truth for sessions, turns, orders and
// error records.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to SQLite and migrates the schema.
func Open(cfg Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		dsn = "dineline.db?_journal_mode=WAL&_busy_timeout=5000"
	}
	level := gormlogger.Silent
	if cfg.LogQueries {
		level = gormlogger.Info
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: shared.
	conns := cfg.MaxOpenConns
	if conns <= 0 {
		conns = 1
	}
	sqlDB.SetMaxOpenConns(conns)
	return New(db)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Store, error) {
	return Open(Config{DSN: ":memory:"})
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Session{}, &Turn{}, &Order{}, &ErrorRecord{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateSession returns the session for callID, creating it on first contact.
// created is false when a session already existed.
func (s *Store) CreateSession(ctx context.Context, callID, phone, language string) (*Session, bool, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, false, errors.New("call id required")
	}
	candidate := Session{
		ID:            uuid.NewString(),
		CallID:        callID,
		CustomerPhone: phone,
		Language:      language,
		CreatedAt:     s.now(),
	}
	var out Session
	res := s.db.WithContext(ctx).Where(Session{CallID: callID}).Attrs(candidate).FirstOrCreate(&out)
	if res.Error != nil {
		// A concurrent first contact may have won the unique index.
		existing, err := s.SessionByCallID(ctx, callID)
		if err != nil {
			return nil, false, errorsx.Wrap(fmt.Errorf("create session: %w", res.Error), errorsx.ReasonStoreWrite)
		}
		return existing, false, nil
	}
	return &out, res.RowsAffected > 0, nil
}

// SessionByCallID loads a session with its turns ordered by sequence.
func (s *Store) SessionByCallID(ctx context.Context, callID string) (*Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).
		Preload("Turns", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Where("call_id = ?", callID).
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("load session %s: %w", callID, err), errorsx.ReasonStoreRead)
	}
	return &sess, nil
}

// SetLanguage records the caller's language choice.
func (s *Store) SetLanguage(ctx context.Context, callID, language string) error {
	res := s.db.WithContext(ctx).Model(&Session{}).Where("call_id = ?", callID).Update("language", language)
	if res.Error != nil {
		return errorsx.Wrap(fmt.Errorf("set language: %w", res.Error), errorsx.ReasonStoreWrite)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTurns appends turns in one transaction, assigning consecutive
// sequence numbers after the current maximum. Readers never observe a
// partial batch.
func (s *Store) AppendTurns(ctx context.Context, sessionID string, turns ...Turn) ([]Turn, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		row := tx.Model(&Turn{}).Select("COALESCE(MAX(sequence), 0)").Where("session_id = ?", sessionID).Row()
		if err := row.Scan(&maxSeq); err != nil {
			return err
		}
		now := s.now()
		for i := range out {
			out[i].ID = 0
			out[i].SessionID = sessionID
			out[i].Sequence = maxSeq + i + 1
			if out[i].Timestamp.IsZero() {
				out[i].Timestamp = now
			}
		}
		return tx.Create(&out).Error
	})
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("append turns: %w", err), errorsx.ReasonStoreWrite)
	}
	return out, nil
}

// CountTurns counts persisted turns of a session with exactly this content.
func (s *Store) CountTurns(ctx context.Context, sessionID, content string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Turn{}).
		Where("session_id = ? AND content = ?", sessionID, content).
		Count(&n).Error
	if err != nil {
		return 0, errorsx.Wrap(fmt.Errorf("count turns: %w", err), errorsx.ReasonStoreRead)
	}
	return int(n), nil
}

// FinalizeSession sets the end timestamp if it is not set yet. It reports
// whether this call performed the transition.
func (s *Store) FinalizeSession(ctx context.Context, callID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Session{}).
		Where("call_id = ? AND ended_at IS NULL", callID).
		Update("ended_at", at)
	if res.Error != nil {
		return false, errorsx.Wrap(fmt.Errorf("finalize session: %w", res.Error), errorsx.ReasonStoreWrite)
	}
	return res.RowsAffected == 1, nil
}

// Completion carries the call-completion facts reported by the gateway.
type Completion struct {
	EndedAt         time.Time
	DurationSeconds *int
	SentimentScore  *float64
}

// CompleteSession stores duration and sentiment and sets the end timestamp
// unless an earlier finalize already did.
func (s *Store) CompleteSession(ctx context.Context, callID string, c Completion) error {
	updates := map[string]any{
		"ended_at": gorm.Expr("COALESCE(ended_at, ?)", c.EndedAt),
	}
	if c.DurationSeconds != nil {
		updates["duration_seconds"] = *c.DurationSeconds
	}
	if c.SentimentScore != nil {
		updates["sentiment_score"] = *c.SentimentScore
	}
	res := s.db.WithContext(ctx).Model(&Session{}).Where("call_id = ?", callID).Updates(updates)
	if res.Error != nil {
		return errorsx.Wrap(fmt.Errorf("complete session: %w", res.Error), errorsx.ReasonStoreWrite)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateOrderForSession creates order and links it to the session in one
// transaction. When the session already has an order, nothing is created and
// the existing link is returned with created=false.
func (s *Store) CreateOrderForSession(ctx context.Context, sessionID string, order *Order) (uint, bool, error) {
	var linked uint
	var created bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess Session
		if err := tx.Select("id", "order_id").Where("id = ?", sessionID).First(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if sess.OrderID != nil {
			linked = *sess.OrderID
			return nil
		}
		if order.Status == "" {
			order.Status = OrderConfirmed
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		res := tx.Model(&Session{}).Where("id = ? AND order_id IS NULL", sessionID).Update("order_id", order.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errLinkLost
		}
		linked = order.ID
		created = true
		return nil
	})
	switch {
	case errors.Is(err, errLinkLost):
		order.ID = 0
		id, lerr := s.sessionOrderID(ctx, sessionID)
		if lerr != nil {
			return 0, false, lerr
		}
		return id, false, nil
	case errors.Is(err, ErrNotFound):
		return 0, false, err
	case err != nil:
		return 0, false, errorsx.Wrap(fmt.Errorf("create order: %w", err), errorsx.ReasonStoreWrite)
	}
	return linked, created, nil
}

// LinkOrder links an existing order to a session that has none. It reports
// whether the link was written.
func (s *Store) LinkOrder(ctx context.Context, sessionID string, orderID uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND order_id IS NULL", sessionID).
		Update("order_id", orderID)
	if res.Error != nil {
		return false, errorsx.Wrap(fmt.Errorf("link order: %w", res.Error), errorsx.ReasonStoreWrite)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) sessionOrderID(ctx context.Context, sessionID string) (uint, error) {
	var sess Session
	if err := s.db.WithContext(ctx).Select("id", "order_id").Where("id = ?", sessionID).First(&sess).Error; err != nil {
		return 0, errorsx.Wrap(fmt.Errorf("reload session link: %w", err), errorsx.ReasonStoreRead)
	}
	if sess.OrderID == nil {
		return 0, errorsx.Wrap(errors.New("session link vanished"), errorsx.ReasonStoreRead)
	}
	return *sess.OrderID, nil
}

// OrderByID loads one order.
func (s *Store) OrderByID(ctx context.Context, id uint) (*Order, error) {
	var o Order
	err := s.db.WithContext(ctx).First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("load order %d: %w", id, err), errorsx.ReasonStoreRead)
	}
	return &o, nil
}

// LatestActiveOrder returns the newest confirmed or modified order placed
// from phone.
func (s *Store) LatestActiveOrder(ctx context.Context, phone string) (*Order, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, ErrNotFound
	}
	var o Order
	err := s.db.WithContext(ctx).
		Where("customer_phone = ? AND status IN ?", phone, []string{OrderConfirmed, OrderModified}).
		Order("created_at DESC").Order("id DESC").
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("latest order: %w", err), errorsx.ReasonStoreRead)
	}
	return &o, nil
}

// UpdateOrderStatus is the administrative status transition. The call
// engine itself only ever writes confirmed orders.
func (s *Store) UpdateOrderStatus(ctx context.Context, id uint, status string) error {
	switch status {
	case OrderConfirmed, OrderModified, OrderCancelled, OrderCompleted:
	default:
		return fmt.Errorf("unknown order status %q", status)
	}
	res := s.db.WithContext(ctx).Model(&Order{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return errorsx.Wrap(fmt.Errorf("update order status: %w", res.Error), errorsx.ReasonStoreWrite)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordError persists a failure record.
func (s *Store) RecordError(ctx context.Context, rec ErrorRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errorsx.Wrap(fmt.Errorf("record error: %w", err), errorsx.ReasonStoreWrite)
	}
	return nil
}

// ErrorsForCall lists error records of one call, oldest first.
func (s *Store) ErrorsForCall(ctx context.Context, callID string) ([]ErrorRecord, error) {
	var out []ErrorRecord
	if err := s.db.WithContext(ctx).Where("call_id = ?", callID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("list errors: %w", err), errorsx.ReasonStoreRead)
	}
	return out, nil
}
