package mailing

import (
	"reflect"
	"testing"
)

func TestExtractTokens(t *testing.T) {
	body := `<a href="{{ landing_url }}">x</a>{{LANDING_URL}}{{ Open_Pixel_Url}}{{FIRST_NAME}}{{ not a token }}`
	got := ExtractTokens(body)
	want := []string{"LANDING_URL", "OPEN_PIXEL_URL", "FIRST_NAME"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractTokens = %v, want %v", got, want)
	}
	if n := CountToken(body, TokenLandingURL); n != 2 {
		t.Fatalf("CountToken(LANDING_URL) = %d, want 2", n)
	}
	if u := UnknownTokens(got, MailAllowedTokens); !reflect.DeepEqual(u, []string{"FIRST_NAME"}) {
		t.Fatalf("UnknownTokens = %v", u)
	}
	if ExtractTokens("") != nil {
		t.Fatal("empty body should have no tokens")
	}
}

func TestReplaceTokenLiteral(t *testing.T) {
	got := ReplaceToken(`{{ LANDING_URL }} and {{landing_url}} but {{SUBMIT_URL}}`, TokenLandingURL, "https://x/p/$1")
	want := `https://x/p/$1 and https://x/p/$1 but {{SUBMIT_URL}}`
	if got != want {
		t.Fatalf("ReplaceToken = %q, want %q", got, want)
	}
}
