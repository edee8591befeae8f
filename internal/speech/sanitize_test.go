package speech

import "testing"

func TestSanitize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello there.", "Hello there."},
		{"markdown emphasis", "That is *very* _important_.", "That is very important ."},
		{"link keeps text", "See [the docs](https://example.com) please.", "See the docs please."},
		{"url dropped", "Visit https://example.com/page now.", "Visit now."},
		{"fenced code dropped", "Run this:\n```\nrm -rf /\n```\ndone.", "Run this: done."},
		{"parens become pauses", "Piper (the TTS) is fast.", "Piper – the TTS – is fast."},
		{"whitespace collapsed", "a \n\t b", "a b"},
		{"empty", "   ", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize(tc.in); got != tc.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeForSpeechExpandsAbbreviations(t *testing.T) {
	cases := []struct {
		name string
		lang string
		in   string
		want string
	}{
		{"english", "en", "See e.g. the dr today", "See for example the doctor today"},
		{"trailing comma kept", "en", "units in kg, not lb", "units in kilograms, not pounds"},
		{"polish", "pl", "np. dwa km", "na przykład dwa kilometr"},
		{"unknown language falls back", "xx", "e.g. fine", "for example fine"},
		{"strips unpronounceable", "en", "cost is 5€ total", "cost is 5 total"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeForSpeech(tc.in, tc.lang); got != tc.want {
				t.Fatalf("NormalizeForSpeech(%q, %q) = %q, want %q", tc.in, tc.lang, got, tc.want)
			}
		})
	}
}
