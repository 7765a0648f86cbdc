package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/auth/login":                "/v1/auth/login",
		"/v1/auth/confirm?token=abc123": "/v1/auth/confirm",
		"/v1/accounts/alice":            "/v1/accounts/:handle",
		"/v1/accounts/alice/email":      "/v1/accounts/:handle/email",
		"/v1/accounts/alice/a/b/extra":  "/v1/accounts/alice/a/b/extra",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
