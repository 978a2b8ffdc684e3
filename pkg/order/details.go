package order

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Schema is the field list requested from the extraction model.
const Schema = `{
  "customer_name": "string or null",
  "order_items": [{"name": "string", "quantity": "integer", "instructions": "string or null"}],
  "is_delivery": "boolean",
  "address": "string or null",
  "reservation_time": "YYYY-MM-DD HH:MM or null",
  "party_size": "integer or null"
}`

// Details is the structured result of order extraction. A skeleton with
// ParsingError or Error set carries no usable data.
type Details struct {
	CustomerName    string `json:"customer_name"`
	Items           []Item `json:"order_items"`
	IsDelivery      bool   `json:"is_delivery"`
	Address         string `json:"address"`
	ReservationTime string `json:"reservation_time"`
	PartySize       *int   `json:"party_size"`
	ParsingError    bool   `json:"parsing_error,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Failed reports whether extraction produced a skeleton.
func (d Details) Failed() bool { return d.ParsingError || d.Error != "" }

// Item is one extracted line. Models use either "name" or "item", and
// "instructions" or "special_instructions".
type Item struct {
	Name         string `json:"name"`
	Alias        string `json:"item,omitempty"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions"`
	Special      string `json:"special_instructions,omitempty"`
}

func (i Item) label() string {
	if n := strings.TrimSpace(i.Name); n != "" {
		return n
	}
	return strings.TrimSpace(i.Alias)
}

func (i Item) notes() string {
	if n := strings.TrimSpace(i.Instructions); n != "" {
		return n
	}
	return strings.TrimSpace(i.Special)
}

// MaxQuantity caps a single extracted line.
const MaxQuantity = 99

func (i Item) quantity() int {
	switch {
	case i.Quantity <= 0:
		return 1
	case i.Quantity > MaxQuantity:
		return MaxQuantity
	}
	return i.Quantity
}

// ParseDetails reads an extraction reply. Numbers and booleans sent as
// strings or floats ("2", 2.0, "true") are coerced; invalid JSON and
// values that cannot be converted are errors.
func ParseDetails(raw string) (Details, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Details{}, err
	}
	var d Details
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &d,
	})
	if err != nil {
		return Details{}, err
	}
	if err := dec.Decode(payload); err != nil {
		return Details{}, fmt.Errorf("decode extraction: %w", err)
	}
	return d, nil
}

var reservationLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
}

// ParseReservationTime accepts ISO forms, "YYYY-MM-DD HH:MM[:SS]",
// date-only and US "MM/DD/YYYY[ HH:MM[:SS]]". Times without a zone are read
// in loc. Unparseable input yields nil.
func ParseReservationTime(raw string, loc *time.Location) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range reservationLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return &t
		}
	}
	return nil
}

// Pricer resolves menu prices in minor units.
type Pricer interface {
	Price(name string) (int, bool)
}

// UnknownItemPrice is charged for items missing from the menu.
const UnknownItemPrice = 1000

// Total sums price times quantity and adds the delivery fee when it applies.
func Total(items []Item, prices Pricer, isDelivery bool, deliveryFee int) int {
	total := 0
	for _, it := range items {
		price := UnknownItemPrice
		if prices != nil {
			if p, ok := prices.Price(it.label()); ok {
				price = p
			}
		}
		total += price * it.quantity()
	}
	if isDelivery {
		total += deliveryFee
	}
	return total
}

// PartySizeString renders an optional party size for logs.
func PartySizeString(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}
