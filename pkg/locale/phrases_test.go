package locale

import (
	"strings"
	"testing"
)

func TestTextFillsRestaurant(t *testing.T) {
	b := NewBook("Mario's", "", nil)
	got := b.Text(EnglishUS, Goodbye)
	if got != "Thank you for calling Mario's. Have a great day!" {
		t.Fatalf("unexpected goodbye %q", got)
	}
	if !strings.HasPrefix(b.Text("ur-pk", Greeting), "Mario's") {
		t.Fatalf("expected urdu greeting for lowercase tag")
	}
}

func TestUnknownLanguageFallsBack(t *testing.T) {
	b := NewBook("Mario's", EnglishUS, nil)
	if b.Text("fr-FR", Repeat) != english[Repeat] {
		t.Fatalf("expected english fallback")
	}
}

func TestOverridesReplaceSinglePhrase(t *testing.T) {
	b := NewBook("Mario's", "", map[string]map[string]string{
		"en_us": {"ask_items": "What can I get you?"},
	})
	if b.Text(EnglishUS, AskItems) != "What can I get you?" {
		t.Fatalf("override not applied")
	}
	if b.Text(EnglishUS, AskReservation) != english[AskReservation] {
		t.Fatalf("other phrases must keep defaults")
	}
}

func TestRenderVars(t *testing.T) {
	b := NewBook("Mario's", "", nil)
	got := b.Render(EnglishUS, StatusConfirmed, map[string]string{"eta": b.Text(EnglishUS, EtaPickup), "total": "$16.00"})
	want := "Your order has been confirmed and is being prepared. Your order should be ready for pickup in 15-20 minutes. The order total is $16.00."
	if got != want {
		t.Fatalf("got %q", got)
	}
}
