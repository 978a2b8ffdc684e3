package respond

import (
	"strconv"

	"github.com/harunnryd/dineline/pkg/knowledge"
)

type Config struct {
	HistoryExchanges int               `mapstructure:"history_exchanges"`
	CacheMaxWords    int               `mapstructure:"cache_max_words"`
	CannedMemoSize   int               `mapstructure:"canned_memo_size"`
	MaxFacts         int               `mapstructure:"max_facts"`
	Canned           map[string]string `mapstructure:"canned"`
	SystemPrompt     string            `mapstructure:"system_prompt"`
	ItemTerms        []string          `mapstructure:"item_terms"`
	FulfillmentTerms []string          `mapstructure:"fulfillment_terms"`
	BookingTerms     []string          `mapstructure:"booking_terms"`
	PolicyTerms      []string          `mapstructure:"policy_terms"`
	SpecialsTerms    []string          `mapstructure:"specials_terms"`
	Restaurant       knowledge.Restaurant
}

func (c Config) withDefaults() Config {
	if c.HistoryExchanges <= 0 {
		c.HistoryExchanges = 5
	}
	if c.CacheMaxWords <= 0 {
		c.CacheMaxWords = 8
	}
	if c.CannedMemoSize <= 0 {
		c.CannedMemoSize = 1024
	}
	if c.MaxFacts <= 0 {
		c.MaxFacts = 4
	}
	c.Restaurant = c.Restaurant.WithDefaults()
	canned := DefaultCanned(c.Restaurant)
	for k, v := range c.Canned {
		if v == "" {
			delete(canned, k)
			continue
		}
		canned[k] = v
	}
	c.Canned = canned
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt(c.Restaurant)
	}
	if len(c.ItemTerms) == 0 {
		c.ItemTerms = []string{
			"pizza", "pizzas", "pasta", "linguine", "fettuccine", "tiramisu", "lasagna", "margherita",
			"seafood", "dessert", "desserts", "appetizer", "appetizers", "salad", "bread",
		}
	}
	if len(c.FulfillmentTerms) == 0 {
		c.FulfillmentTerms = []string{
			"delivery", "deliver", "delivered", "pickup", "pick up", "pick it up",
			"takeout", "take out", "carryout", "collect",
		}
	}
	if len(c.BookingTerms) == 0 {
		c.BookingTerms = []string{
			"today", "tonight", "tomorrow", "monday", "tuesday", "wednesday", "thursday", "friday",
			"saturday", "sunday", "weekend", "am", "pm", "o'clock", "noon", "morning", "afternoon",
			"evening", "people", "persons", "guests", "party of",
			"two", "three", "four", "five", "six", "seven", "eight", "nine", "ten", "eleven", "twelve",
		}
	}
	if len(c.PolicyTerms) == 0 {
		c.PolicyTerms = []string{
			"delivery", "pickup", "reservation", "allergies", "dietary", "gluten", "vegetarian", "vegan",
		}
	}
	if len(c.SpecialsTerms) == 0 {
		c.SpecialsTerms = []string{"special", "specials", "deal", "deals", "promo", "promotion"}
	}
	return c
}

// DefaultCanned is the static topic table answered without the model.
func DefaultCanned(r knowledge.Restaurant) map[string]string {
	r = r.WithDefaults()
	radius := strconv.Itoa(r.DeliveryRadiusMiles)
	location := "Please ask a staff member for directions to " + r.Name + "."
	if r.Address != "" {
		location = "You can find " + r.Name + " at " + r.Address + "."
	}
	parking := r.Parking
	if parking == "" {
		parking = "Free parking is available in the lot behind the restaurant."
	}
	return map[string]string{
		"menu": "Our menu features Italian classics: appetizers, pizzas, pasta, desserts and drinks. " +
			"Popular choices include the Margherita Pizza, Seafood Linguine and Tiramisu. What would you like to order?",
		"hours":         "We're open " + r.Hours + ".",
		"delivery fee":  "Our delivery fee is " + knowledge.Money(r.DeliveryFee) + " for orders within " + radius + " miles.",
		"delivery area": "We deliver within " + radius + " miles of the restaurant.",
		"pricing":       "Our pizzas range from $16 to $20, pasta dishes from $13 to $22, and desserts from $6 to $9.",
		"location":      location,
		"parking":       parking,
	}
}

// DefaultSystemPrompt describes the assistant role and venue to the model.
func DefaultSystemPrompt(r knowledge.Restaurant) string {
	r = r.WithDefaults()
	return "You are the virtual assistant for " + r.Name + ". You handle phone orders and reservations politely and efficiently.\n" +
		"Restaurant details:\n" +
		"- Hours: " + r.Hours + "\n" +
		"- Delivery available within " + strconv.Itoa(r.DeliveryRadiusMiles) + " miles, " + knowledge.Money(r.DeliveryFee) + " delivery fee\n" +
		"- Reservations needed for parties of " + strconv.Itoa(r.MinReservationSize) + " or more\n" +
		"When taking orders or reservations get the customer name, the order details or the reservation time and party size, " +
		"and confirm before finalizing.\n" +
		"Keep responses conversational and at most 3 sentences. If you cannot help, offer to transfer the caller to a staff member."
}
