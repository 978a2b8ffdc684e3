package phone

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"(312) 555-0199":      "+13125550199",
		"13125550199":         "+13125550199",
		"+1 312 555 0199":     "+13125550199",
		"+44 20 7946 0958":    "+442079460958",
		"011 44 20 7946 0958": "+442079460958",
		"+923001234567":       "+923001234567",
		"5550199":             "5550199",
		"":                    "",
		"anonymous":           "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeInRegion(t *testing.T) {
	cases := []struct {
		raw, region, want string
	}{
		{"020 7946 0958", "GB", "+442079460958"},
		{"0300 1234567", "pk", "+923001234567"},
		{"(312) 555-0199", "", "+13125550199"},
	}
	for _, tc := range cases {
		if got := NormalizeIn(tc.raw, tc.region); got != tc.want {
			t.Fatalf("NormalizeIn(%q, %q) = %q, want %q", tc.raw, tc.region, got, tc.want)
		}
	}
}
