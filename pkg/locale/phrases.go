// Package locale holds the fixed spoken phrases of the assistant per
// language. Phrases may reference {restaurant} and, for some keys, other
// {placeholders} filled by Render.
package locale

import (
	"sort"
	"strings"
)

const (
	EnglishUS = "en-US"
	UrduPK    = "ur-PK"
)

type Key string

const (
	LanguageMenu      Key = "language_menu"
	Greeting          Key = "greeting"
	GreetingReturning Key = "greeting_returning"
	Goodbye           Key = "goodbye"
	Trouble           Key = "trouble"
	Apology           Key = "apology"
	TechnicalIssue    Key = "technical_issue"
	NoInputGentle     Key = "no_input_gentle"
	NoInputDirect     Key = "no_input_direct"
	NoInputGoodbye    Key = "no_input_goodbye"
	FallbackRepeat    Key = "fallback_repeat"
	FallbackTransfer  Key = "fallback_transfer"
	AskItems          Key = "ask_items"
	AskDeliveryPickup Key = "ask_delivery_pickup"
	AskReservation    Key = "ask_reservation"
	Acknowledge       Key = "acknowledge"
	Repeat            Key = "repeat"
	NoActiveOrders    Key = "no_active_orders"
	OrderNotFound     Key = "order_not_found"
	StatusConfirmed   Key = "status_confirmed"
	StatusModified    Key = "status_modified"
	StatusCancelled   Key = "status_cancelled"
	StatusCompleted   Key = "status_completed"
	StatusOther       Key = "status_other"
	EtaDelivery       Key = "eta_delivery"
	EtaPickup         Key = "eta_pickup"
	TransferHold      Key = "transfer_hold"
	ReplyLanguageHint Key = "reply_language_hint"
)

var english = map[Key]string{
	LanguageMenu:      "Thank you for calling {restaurant}. Press 1 for English or press 2 for Urdu.",
	Greeting:          "Welcome to {restaurant}. How can I help you today? You can ask about our menu, place an order, or make a reservation.",
	GreetingReturning: "Welcome back to {restaurant}. I see you have an existing order with us. How can I help you today?",
	Goodbye:           "Thank you for calling {restaurant}. Have a great day!",
	Trouble:           "I'm sorry, I'm having trouble with this call. Please try again later.",
	Apology:           "I apologize, but I'm experiencing some technical difficulties. Let me transfer you to one of our staff members.",
	TechnicalIssue:    "I'm experiencing some technical difficulties. Let me transfer you to one of our staff members who can help.",
	NoInputGentle:     "I didn't hear anything. Can I help you with an order or reservation today?",
	NoInputDirect:     "I still don't hear anything. If you're there, please speak now, or I'll end the call.",
	NoInputGoodbye:    "I haven't heard a response. Thank you for calling {restaurant}. Feel free to call back anytime!",
	FallbackRepeat:    "I'm sorry, I didn't catch that. Could you please repeat?",
	FallbackTransfer:  "I'm having trouble understanding you. Let me transfer you to a staff member who can help.",
	AskItems:          "What would you like to order today?",
	AskDeliveryPickup: "Would you like that for delivery or pickup?",
	AskReservation:    "What date and time would you like the reservation for, and how many people will be joining?",
	Acknowledge:       "Let me look into that for you. One moment please.",
	Repeat:            "I'm sorry, could you repeat that?",
	NoActiveOrders:    "I don't see any active orders for your phone number. Would you like to place a new order?",
	OrderNotFound:     "I'm having trouble finding your order details. Please call back in a few minutes or speak with a staff member.",
	StatusConfirmed:   "Your order has been confirmed and is being prepared.{eta} The order total is {total}.",
	StatusModified:    "Your order has been modified as requested. The updated total is {total}.",
	StatusCancelled:   "Your order has been cancelled. Is there anything else I can help you with?",
	StatusCompleted:   "Your order has been completed. We hope you enjoyed your meal! Would you like to place a new order?",
	StatusOther:       "Your order status is: {status}. Is there anything specific you'd like to know about your order?",
	EtaDelivery:       " Your delivery should arrive within 30-45 minutes.",
	EtaPickup:         " Your order should be ready for pickup in 15-20 minutes.",
	TransferHold:      "Transferring you to one of our staff. Please hold.",
	ReplyLanguageHint: "Reply in English.",
}

var urdu = map[Key]string{
	LanguageMenu:      "Thank you for calling {restaurant}. Press 1 for English or press 2 for Urdu.",
	Greeting:          "{restaurant} میں خوش آمدید۔ میں آپ کی کیسے مدد کر سکتا ہوں؟ آپ ہمارے مینو کے بارے میں پوچھ سکتے ہیں، آرڈر دے سکتے ہیں، یا ریزرویشن کر سکتے ہیں۔",
	GreetingReturning: "{restaurant} میں دوبارہ خوش آمدید۔ میں دیکھ رہا ہوں کہ آپ کا ایک موجودہ آرڈر ہے۔ میں آج آپ کی کیسے مدد کر سکتا ہوں؟",
	Goodbye:           "{restaurant} کو کال کرنے کا شکریہ۔ آپ کا دن اچھا گزرے!",
	Trouble:           "معذرت، اس کال میں مسئلہ آ رہا ہے۔ براہ کرم بعد میں دوبارہ کوشش کریں۔",
	Apology:           "معذرت، ہمیں تکنیکی مشکلات کا سامنا ہے۔ میں آپ کو ہمارے عملے کے ایک رکن سے ملا رہا ہوں۔",
	TechnicalIssue:    "ہمیں کچھ تکنیکی مشکلات کا سامنا ہے۔ میں آپ کو ہمارے عملے کے ایک رکن سے ملا رہا ہوں جو آپ کی مدد کر سکے۔",
	NoInputGentle:     "مجھے کچھ سنائی نہیں دیا۔ کیا میں آرڈر یا ریزرویشن میں آپ کی مدد کر سکتا ہوں؟",
	NoInputDirect:     "مجھے اب بھی کچھ سنائی نہیں دے رہا۔ اگر آپ موجود ہیں تو براہ کرم ابھی بولیں، ورنہ میں کال ختم کر دوں گا۔",
	NoInputGoodbye:    "مجھے کوئی جواب نہیں ملا۔ {restaurant} کو کال کرنے کا شکریہ۔ کسی بھی وقت دوبارہ کال کریں!",
	FallbackRepeat:    "معذرت، میں سمجھ نہیں سکا۔ کیا آپ دوبارہ کہہ سکتے ہیں؟",
	FallbackTransfer:  "مجھے آپ کی بات سمجھنے میں دشواری ہو رہی ہے۔ میں آپ کو عملے کے ایک رکن سے ملا رہا ہوں۔",
	AskItems:          "آپ آج کیا آرڈر کرنا چاہیں گے؟",
	AskDeliveryPickup: "کیا آپ ڈیلیوری چاہیں گے یا خود لینے آئیں گے؟",
	AskReservation:    "آپ کس تاریخ اور وقت پر ریزرویشن چاہیں گے، اور کتنے لوگ ہوں گے؟",
	Acknowledge:       "ایک لمحہ، میں آپ کے لیے دیکھتا ہوں۔",
	Repeat:            "معذرت، کیا آپ وہ دوبارہ کہہ سکتے ہیں؟",
	NoActiveOrders:    "مجھے آپ کے فون نمبر پر کوئی فعال آرڈر نظر نہیں آ رہا۔ کیا آپ نیا آرڈر دینا چاہیں گے؟",
	OrderNotFound:     "مجھے آپ کے آرڈر کی تفصیلات نہیں مل رہیں۔ براہ کرم چند منٹ بعد کال کریں یا عملے سے بات کریں۔",
	StatusConfirmed:   "آپ کے آرڈر کی تصدیق ہو گئی ہے اور وہ تیار کیا جا رہا ہے۔{eta} آرڈر کی کل رقم {total} ہے۔",
	StatusModified:    "آپ کا آرڈر آپ کی درخواست کے مطابق تبدیل کر دیا گیا ہے۔ نئی کل رقم {total} ہے۔",
	StatusCancelled:   "آپ کا آرڈر منسوخ کر دیا گیا ہے۔ کیا میں کسی اور چیز میں مدد کر سکتا ہوں؟",
	StatusCompleted:   "آپ کا آرڈر مکمل ہو چکا ہے۔ امید ہے آپ کو کھانا پسند آیا! کیا آپ نیا آرڈر دینا چاہیں گے؟",
	StatusOther:       "آپ کے آرڈر کی صورتحال: {status}۔",
	EtaDelivery:       " آپ کی ڈیلیوری 30 سے 45 منٹ میں پہنچ جانی چاہیے۔",
	EtaPickup:         " آپ کا آرڈر 15 سے 20 منٹ میں تیار ہو جانا چاہیے۔",
	TransferHold:      "میں آپ کو عملے سے ملا رہا ہوں۔ براہ کرم انتظار کریں۔",
	ReplyLanguageHint: "Reply in Urdu.",
}

// Book resolves phrases by language, falling back to the default
// language and then to built-in English.
type Book struct {
	restaurant string
	fallback   string
	phrases    map[string]map[Key]string
}

// NewBook builds a phrasebook. overrides maps language tag to key to text
// and replaces individual built-in phrases.
func NewBook(restaurant, fallback string, overrides map[string]map[string]string) *Book {
	if fallback == "" {
		fallback = EnglishUS
	}
	b := &Book{
		restaurant: restaurant,
		fallback:   fallback,
		phrases: map[string]map[Key]string{
			EnglishUS: clone(english),
			UrduPK:    clone(urdu),
		},
	}
	for lang, keys := range overrides {
		tag := canonical(lang)
		if b.phrases[tag] == nil {
			b.phrases[tag] = map[Key]string{}
		}
		for k, v := range keys {
			if strings.TrimSpace(v) == "" {
				continue
			}
			b.phrases[tag][Key(strings.ToLower(k))] = v
		}
	}
	return b
}

// Text returns the phrase for key in lang with {restaurant} filled in.
func (b *Book) Text(lang string, key Key) string {
	return b.Render(lang, key, nil)
}

// Render returns the phrase for key in lang with vars substituted.
func (b *Book) Render(lang string, key Key, vars map[string]string) string {
	text := b.lookup(lang, key)
	pairs := []string{"{restaurant}", b.restaurant}
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Languages lists the tags with at least one phrase, sorted.
func (b *Book) Languages() []string {
	out := make([]string, 0, len(b.phrases))
	for tag := range b.phrases {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func (b *Book) lookup(lang string, key Key) string {
	if text, ok := b.phrases[canonical(lang)][key]; ok {
		return text
	}
	if text, ok := b.phrases[b.fallback][key]; ok {
		return text
	}
	return english[key]
}

// canonical normalizes a BCP-47 tag to language-REGION casing.
func canonical(tag string) string {
	tag = strings.TrimSpace(strings.ReplaceAll(tag, "_", "-"))
	parts := strings.SplitN(tag, "-", 2)
	if len(parts) == 1 {
		return strings.ToLower(parts[0])
	}
	return strings.ToLower(parts[0]) + "-" + strings.ToUpper(parts[1])
}

func clone(in map[Key]string) map[Key]string {
	out := make(map[Key]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
