package httpapi

import "testing"

func TestValidSessionID(t *testing.T) {
	valid := []string{"5511999887766", "+5511999887766", "1", "+1"}
	for _, id := range valid {
		if !ValidSessionID(id) {
			t.Errorf("ValidSessionID(%q) = false, want true", id)
		}
	}
	invalid := []string{"", "+", "abc", "55 11", "55-11", "++55", "55+", "5511x"}
	for _, id := range invalid {
		if ValidSessionID(id) {
			t.Errorf("ValidSessionID(%q) = true, want false", id)
		}
	}
}

func TestAuthorizationValue(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"secret", "Bearer secret"},
		{"Bearer secret", "Bearer secret"},
		{"Basic dXNlcjpwYXNz", "Basic dXNlcjpwYXNz"},
		{"Token abc123", "Token abc123"},
		// Scheme matching is case-insensitive; no double-prefixing.
		{"bearer secret", "bearer secret"},
		{"BASIC dXNlcjpwYXNz", "BASIC dXNlcjpwYXNz"},
		{"token abc123", "token abc123"},
		{"Tokenless", "Bearer Tokenless"},
	}
	for _, tc := range cases {
		if got := authorizationValue(tc.in); got != tc.want {
			t.Errorf("authorizationValue(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUpstreamRejection(t *testing.T) {
	if _, _, rejected := upstreamRejection([]byte(`{"route":"bot"}`)); rejected {
		t.Fatal("body without ok field treated as rejection")
	}
	if _, _, rejected := upstreamRejection([]byte(`{"ok":true}`)); rejected {
		t.Fatal("ok:true treated as rejection")
	}
	code, detail, rejected := upstreamRejection([]byte(`{"ok":false,"error":"nope","details":"why"}`))
	if !rejected || code != "nope" || detail != "why" {
		t.Fatalf("rejection = %q %q %v", code, detail, rejected)
	}
	code, _, rejected = upstreamRejection([]byte(`{"ok":false}`))
	if !rejected || code != "webhook_rejected" {
		t.Fatalf("default code = %q", code)
	}
}
