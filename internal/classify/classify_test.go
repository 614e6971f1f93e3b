package classify

import "testing"

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		statusCode int
		message    string
		want       Kind
	}{
		{"quota", 402, "insufficient quota", Quota},
		{"auth401", 401, "invalid token", Auth},
		{"auth403", 403, "forbidden", Auth},
		{"rate_limit", 429, "too many requests", RateLimit},
		{"content_too_long", 400, "input is too long for the model", ContentTooLong},
		{"invalid_model", 400, "model not found: foo", InvalidModel},
		{"client_other_400", 400, "missing required field", Client},
		{"server", 503, "service unavailable", Server},
		{"network_reset", 500, "read tcp: econnreset", Network},
		{"network_timeout_no_status", 0, "dial timeout", Network},
		{"banned", 200, "account suspended for policy violation", Banned},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tc.statusCode, tc.message)
			if got != tc.want {
				t.Errorf("Classify(%d, %q) = %v, want %v", tc.statusCode, tc.message, got, tc.want)
			}
		})
	}
}

func TestPolicyFor(t *testing.T) {
	t.Parallel()
	p := PolicyFor(Banned)
	if !p.DisableCredential || p.Retryable {
		t.Errorf("banned policy = %+v, want disable && !retryable", p)
	}
	p = PolicyFor(Auth)
	if !p.RefreshToken || !p.Retryable {
		t.Errorf("auth policy = %+v, want refresh && retryable", p)
	}
}

func TestErrorWeight(t *testing.T) {
	t.Parallel()
	if w := ErrorWeight(Banned); w != 50 {
		t.Errorf("banned weight = %d, want 50", w)
	}
	if w := ErrorWeight(Auth); w != 40 {
		t.Errorf("auth weight = %d, want 40", w)
	}
	if w := ErrorWeight(Quota); w != 30 {
		t.Errorf("quota weight = %d, want 30", w)
	}
	if w := ErrorWeight(Client); w != 20 {
		t.Errorf("client weight = %d, want 20", w)
	}
}
