package llmgateway

import "testing"

func TestErrorClassIsRetryable(t *testing.T) {
	cases := map[ErrorClass]bool{
		ErrorClassRateLimit:  true,
		ErrorClassServer:     true,
		ErrorClassTimeout:    true,
		ErrorClassAuth:       false,
		ErrorClassBadRequest: false,
		ErrorClassUnknown:    false,
	}
	for class, want := range cases {
		if got := class.IsRetryable(); got != want {
			t.Errorf("%s.IsRetryable() = %v, want %v", class, got, want)
		}
	}
}

func TestNewProviderErrorClassifiesMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorClass
	}{
		{"429 Too Many Requests", ErrorClassRateLimit},
		{"401 unauthorized: bad api key", ErrorClassAuth},
		{"400 bad request: invalid_request", ErrorClassBadRequest},
		{"context deadline exceeded", ErrorClassTimeout},
		{"502 server error", ErrorClassServer},
		{"something weird happened", ErrorClassUnknown},
	}
	for _, c := range cases {
		err := NewProviderError("openai", "gpt-4o-mini", errString(c.msg))
		if err.Class != c.want {
			t.Errorf("classify(%q) = %s, want %s", c.msg, err.Class, c.want)
		}
	}
}

func TestParseRetryDelaySeconds(t *testing.T) {
	if v, ok := ParseRetryDelaySeconds("12s"); !ok || v != 12 {
		t.Fatalf("got %v, %v", v, ok)
	}
	if v, ok := ParseRetryDelaySeconds("3.5"); !ok || v != 3.5 {
		t.Fatalf("got %v, %v", v, ok)
	}
	if _, ok := ParseRetryDelaySeconds("not-a-number"); ok {
		t.Fatalf("expected parse failure")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
