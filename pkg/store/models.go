package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

const (
	SpeakerCustomer  = "customer"
	SpeakerAssistant = "assistant"
)

// Sentinel turn contents mark non-speech events. They never reach the LLM.
const (
	SentinelNoInput        = "NO_INPUT"
	SentinelSpeechFallback = "SPEECH_FALLBACK"
)

const (
	OrderConfirmed = "confirmed"
	OrderModified  = "modified"
	OrderCancelled = "cancelled"
	OrderCompleted = "completed"
)

// IsSentinel reports whether content is an escalation marker.
func IsSentinel(content string) bool {
	return content == SentinelNoInput || content == SentinelSpeechFallback
}

// Session is the durable record of one phone call.
type Session struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	CallID          string     `gorm:"uniqueIndex;size:64;not null" json:"call_id"`
	CustomerPhone   string     `gorm:"index;size:32" json:"customer_phone"`
	Language        string     `gorm:"size:16" json:"language"`
	OrderID         *uint      `gorm:"index" json:"order_id,omitempty"`
	SentimentScore  *float64   `json:"sentiment_score,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Turns           []Turn     `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"turns,omitempty"`
}

// Active reports whether the call has not been finalized yet.
func (s *Session) Active() bool { return s != nil && s.EndedAt == nil }

// HasOrder reports whether an order is linked to the session.
func (s *Session) HasOrder() bool { return s != nil && s.OrderID != nil }

// Conversation returns the turns that carry real speech, in order.
func (s *Session) Conversation() []Turn {
	if s == nil {
		return nil
	}
	out := make([]Turn, 0, len(s.Turns))
	for _, t := range s.Turns {
		if IsSentinel(t.Content) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Turn is one utterance record. Turns are append-only.
type Turn struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"size:36;not null;uniqueIndex:idx_turn_session_seq,priority:1" json:"session_id"`
	Sequence  int       `gorm:"not null;uniqueIndex:idx_turn_session_seq,priority:2" json:"sequence"`
	Speaker   string    `gorm:"size:16;not null" json:"speaker"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Intent    *string   `gorm:"size:32" json:"intent,omitempty"`
	LatencyMS *int      `json:"latency_ms,omitempty"`
	Timestamp time.Time `gorm:"not null" json:"timestamp"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions,omitempty"`
}

// Order is a materialized food order or reservation.
type Order struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CustomerName    string         `gorm:"size:128" json:"customer_name"`
	CustomerPhone   string         `gorm:"index;size:32" json:"customer_phone"`
	Items           datatypes.JSON `json:"items"`
	IsDelivery      bool           `json:"is_delivery"`
	DeliveryAddress string         `gorm:"type:text" json:"delivery_address,omitempty"`
	DeliveryFee     int            `json:"delivery_fee"`
	ReservationTime *time.Time     `json:"reservation_time,omitempty"`
	PartySize       *int           `json:"party_size,omitempty"`
	Status          string         `gorm:"size:16;index" json:"status"`
	Total           int            `json:"total"`
	Notes           string         `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// SetItems encodes the item list into the JSON column.
func (o *Order) SetItems(items []OrderItem) error {
	if items == nil {
		items = []OrderItem{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	o.Items = datatypes.JSON(b)
	return nil
}

// ItemList decodes the JSON item column. A nil column yields no items.
func (o *Order) ItemList() ([]OrderItem, error) {
	if len(o.Items) == 0 {
		return nil, nil
	}
	var items []OrderItem
	if err := json.Unmarshal([]byte(o.Items), &items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	return items, nil
}

// ErrorRecord captures a turn-processing failure for later inspection.
type ErrorRecord struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CallID    string         `gorm:"index;size:64" json:"call_id"`
	Kind      string         `gorm:"size:64" json:"kind"`
	Message   string         `gorm:"type:text" json:"message"`
	Context   datatypes.JSON `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
