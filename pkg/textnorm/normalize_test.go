package textnorm

import "testing"

func TestNormalize(t *testing.T) {
	if got := Normalize("  What   ARE your\tHours? "); got != "what are your hours?" {
		t.Fatalf("unexpected normalize result %q", got)
	}
}

func TestContainsTermWordBoundaries(t *testing.T) {
	if !ContainsTerm("I'd like a pizza, please", "pizza") {
		t.Fatalf("expected pizza match")
	}
	if ContainsTerm("i want an ordering app", "order") {
		t.Fatalf("partial word must not match")
	}
	if !ContainsTerm("ok that's all thanks", "that's all") {
		t.Fatalf("expected phrase match")
	}
	if ContainsTerm("all that", "that all") {
		t.Fatalf("phrase order must be respected")
	}
}

func TestMatchAnyReturnsFirstListedTerm(t *testing.T) {
	term, ok := MatchAny("delivery fee and menu", []string{"menu", "delivery fee"})
	if !ok || term != "menu" {
		t.Fatalf("expected menu, got %q %v", term, ok)
	}
	if _, ok := MatchAny("", []string{"menu"}); ok {
		t.Fatalf("empty text must not match")
	}
}

func TestWordCount(t *testing.T) {
	if WordCount(" one two  three ") != 3 {
		t.Fatalf("expected 3 words")
	}
}
