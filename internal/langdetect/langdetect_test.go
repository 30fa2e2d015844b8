package langdetect

import "testing"

func TestDeclaredLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{raw: " EN_us ", want: "en"},
		{raw: "ar-EG", want: "ar"},
		{raw: "fr", want: "fr"},
		{raw: "ara", want: "ar"},
		{raw: "Hebrew", want: "he"},
		{raw: "UKR", want: "uk"},
		{raw: "en_123", want: "en"},
		{raw: "e1", want: ""},
		{raw: "klingon", want: ""},
		{raw: " ", want: ""},
	}
	for _, tt := range tests {
		if got := DeclaredLanguage(tt.raw); got != tt.want {
			t.Fatalf("DeclaredLanguage(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestDetectISO6391ShortTextIsUnknown(t *testing.T) {
	t.Parallel()

	if got := DetectISO6391("Gaza"); got != "" {
		t.Fatalf("expected no guess for short text, got %q", got)
	}
}

func TestArticleLanguage(t *testing.T) {
	t.Parallel()

	if got := ArticleLanguage("uk-UA", "Обстріл Харкова", ""); got != "uk" {
		t.Fatalf("expected declared language to win, got %q", got)
	}

	got := ArticleLanguage("",
		"Airstrike hits Gaza City hospital",
		"An airstrike struck the main hospital in Gaza City on Tuesday morning, killing and wounding dozens of patients.")
	if got != "en" {
		t.Fatalf("expected english detection, got %q", got)
	}

	got = ArticleLanguage("",
		"Обстріл Харкова",
		"Російські війська вночі обстріляли житлові квартали Харкова, є загиблі та поранені серед мирних жителів.")
	if got != "uk" {
		t.Fatalf("expected ukrainian detection, got %q", got)
	}
}
