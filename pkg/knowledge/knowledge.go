// Package knowledge is the restaurant fact base consulted for menu prices
// and for augmenting generated replies.
package knowledge

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/harunnryd/dineline/pkg/textnorm"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultDocument []byte

// Source answers a topic or item name with one fact text.
type Source interface {
	Lookup(ctx context.Context, topic string) (string, bool, error)
}

// Restaurant holds the venue details that appear in facts and prompts.
type Restaurant struct {
	Name                string `mapstructure:"name"`
	Hours               string `mapstructure:"hours"`
	Address             string `mapstructure:"address"`
	Parking             string `mapstructure:"parking"`
	StaffNumber         string `mapstructure:"staff_number"`
	DeliveryRadiusMiles int    `mapstructure:"delivery_radius_miles"`
	DeliveryFee         int    `mapstructure:"delivery_fee"`
	MinReservationSize  int    `mapstructure:"min_reservation_size"`
}

func (r Restaurant) WithDefaults() Restaurant {
	if r.Name == "" {
		r.Name = "Mario's Italian Restaurant"
	}
	if r.Hours == "" {
		r.Hours = "Tuesday-Sunday, 11am-10pm (closed Mondays)"
	}
	if r.DeliveryRadiusMiles <= 0 {
		r.DeliveryRadiusMiles = 5
	}
	if r.DeliveryFee <= 0 {
		r.DeliveryFee = 300
	}
	if r.MinReservationSize <= 0 {
		r.MinReservationSize = 5
	}
	return r
}

// Money formats minor units as dollars, e.g. 1600 -> "$16.00".
func Money(cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

type Category struct {
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

type Item struct {
	Name        string   `yaml:"name"`
	Category    string   `yaml:"category"`
	Price       int      `yaml:"price"`
	Description string   `yaml:"description"`
	Ingredients []string `yaml:"ingredients"`
	Dietary     string   `yaml:"dietary"`
}

type Policy struct {
	Topic   string `yaml:"topic"`
	Content string `yaml:"content"`
}

type Special struct {
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

// Document is the on-disk knowledge layout.
type Document struct {
	Categories []Category        `yaml:"categories"`
	Items      []Item            `yaml:"items"`
	Policies   []Policy          `yaml:"policies"`
	Specials   []Special         `yaml:"specials"`
	Aliases    map[string]string `yaml:"aliases"`
}

var specialsTopics = map[string]bool{
	"special": true, "specials": true, "deal": true, "deals": true, "promo": true, "promotion": true,
}

// MinOverlap is the share of query words that must appear in a name for a
// fuzzy match.
const MinOverlap = 0.5

// Base is an in-memory knowledge base. It is read-only after construction.
type Base struct {
	doc        Document
	restaurant Restaurant
	items      map[string]Item
	policies   map[string]Policy
	categories map[string]Category
	aliases    map[string]string
}

// Default returns the built-in knowledge base for r.
func Default(r Restaurant) (*Base, error) {
	return Parse(defaultDocument, r)
}

// Load reads a YAML knowledge file.
func Load(path string, r Restaurant) (*Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	return Parse(data, r)
}

// Parse decodes a YAML document and fills restaurant placeholders.
func Parse(data []byte, r Restaurant) (*Base, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse knowledge: %w", err)
	}
	r = r.WithDefaults()
	fill := strings.NewReplacer(
		"{restaurant}", r.Name,
		"{hours}", r.Hours,
		"{delivery_radius}", strconv.Itoa(r.DeliveryRadiusMiles),
		"{delivery_fee}", Money(r.DeliveryFee),
		"{min_reservation_size}", strconv.Itoa(r.MinReservationSize),
	)
	b := &Base{
		restaurant: r,
		items:      map[string]Item{},
		policies:   map[string]Policy{},
		categories: map[string]Category{},
		aliases:    map[string]string{},
	}
	for i := range doc.Categories {
		doc.Categories[i].Content = fill.Replace(doc.Categories[i].Content)
		b.categories[key(doc.Categories[i].Name)] = doc.Categories[i]
	}
	for i := range doc.Items {
		doc.Items[i].Description = fill.Replace(doc.Items[i].Description)
		b.items[key(doc.Items[i].Name)] = doc.Items[i]
	}
	for i := range doc.Policies {
		doc.Policies[i].Content = fill.Replace(doc.Policies[i].Content)
		b.policies[key(doc.Policies[i].Topic)] = doc.Policies[i]
	}
	for i := range doc.Specials {
		doc.Specials[i].Content = fill.Replace(doc.Specials[i].Content)
	}
	for k, v := range doc.Aliases {
		b.aliases[key(k)] = v
	}
	b.doc = doc
	return b, nil
}

func (b *Base) Restaurant() Restaurant { return b.restaurant }

// Item returns a menu item by case-insensitive name.
func (b *Base) Item(name string) (Item, bool) {
	it, ok := b.items[key(name)]
	return it, ok
}

// Price returns an item's price in minor units.
func (b *Base) Price(name string) (int, bool) {
	it, ok := b.Item(name)
	if !ok {
		return 0, false
	}
	return it.Price, true
}

// ItemNames lists menu item names in document order.
func (b *Base) ItemNames() []string {
	out := make([]string, 0, len(b.doc.Items))
	for _, it := range b.doc.Items {
		out = append(out, it.Name)
	}
	return out
}

func (b *Base) Specials() []Special { return b.doc.Specials }

// Lookup resolves topic by exact name (item, policy, category), then the
// alias table, then word overlap of at least MinOverlap.
func (b *Base) Lookup(ctx context.Context, topic string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	k := key(topic)
	if k == "" {
		return "", false, nil
	}
	if specialsTopics[k] {
		return b.specialsFact()
	}
	if it, ok := b.items[k]; ok {
		return itemFact(it), true, nil
	}
	if p, ok := b.policies[k]; ok {
		return policyFact(p), true, nil
	}
	if c, ok := b.categories[k]; ok {
		return c.Content, true, nil
	}
	if target, ok := b.aliases[k]; ok {
		if p, ok := b.policies[key(target)]; ok {
			return policyFact(p), true, nil
		}
	}
	return b.fuzzy(k)
}

func (b *Base) fuzzy(query string) (string, bool, error) {
	words := stems(query)
	if len(words) == 0 {
		return "", false, nil
	}
	best, fact := 0.0, ""
	consider := func(name, text string) {
		if s := overlap(words, stems(name)); s > best {
			best, fact = s, text
		}
	}
	for _, it := range b.doc.Items {
		consider(it.Name, itemFact(it))
	}
	for _, c := range b.doc.Categories {
		consider(c.Name, c.Content)
	}
	for _, p := range b.doc.Policies {
		consider(p.Topic, policyFact(p))
	}
	if best < MinOverlap {
		return "", false, nil
	}
	return fact, true, nil
}

func (b *Base) specialsFact() (string, bool, error) {
	if len(b.doc.Specials) == 0 {
		return "", false, nil
	}
	parts := make([]string, 0, len(b.doc.Specials))
	for _, s := range b.doc.Specials {
		parts = append(parts, s.Name+": "+s.Content)
	}
	return strings.Join(parts, "\n"), true, nil
}

func itemFact(it Item) string {
	var sb strings.Builder
	sb.WriteString(it.Name)
	sb.WriteString(":")
	if it.Description != "" {
		sb.WriteString(" " + it.Description)
	}
	sb.WriteString(" Price: " + Money(it.Price) + ".")
	if len(it.Ingredients) > 0 {
		sb.WriteString(" Ingredients: " + strings.Join(it.Ingredients, ", ") + ".")
	}
	if it.Dietary != "" {
		sb.WriteString(" Dietary info: " + it.Dietary)
	}
	return sb.String()
}

func policyFact(p Policy) string {
	return p.Topic + " Policy: " + p.Content
}

func key(s string) string { return textnorm.Normalize(s) }

// stems drops a trailing plural "s" so "pizza" meets "Pizzas".
func stems(s string) []string {
	words := textnorm.Words(s)
	for i, w := range words {
		if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
			words[i] = strings.TrimSuffix(w, "s")
		}
	}
	return words
}

func overlap(query, name []string) float64 {
	set := make(map[string]bool, len(name))
	for _, w := range name {
		set[w] = true
	}
	hit := 0
	for _, w := range query {
		if set[w] {
			hit++
		}
	}
	return float64(hit) / float64(len(query))
}

var _ Source = (*Base)(nil)
