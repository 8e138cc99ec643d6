package runner

import "testing"

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   bool
	}{
		{
			name:   "invalid api key in error",
			result: Failure("API Error: Invalid API key · Please run /login", 1),
			want:   true,
		},
		{
			name:   "401 in output",
			result: Result{Success: false, Output: "request failed: 401 Unauthorized", Error: "exit code: 1"},
			want:   true,
		},
		{
			name:   "expired oauth token",
			result: Failure("OAuth token has expired", 1),
			want:   true,
		},
		{
			name:   "not logged in",
			result: Failure("you are not logged in, run `codex login`", 1),
			want:   true,
		},
		{
			name:   "ordinary failure",
			result: Failure("tests failed: 3 assertions", 1),
			want:   false,
		},
		{
			name:   "timeout is not auth",
			result: Failure("command timed out after 5m0s", ExitTimeout),
			want:   false,
		},
		{
			name:   "successful result never matches",
			result: Success("discussing 401 unauthorized handling", nil, nil),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthFailure(tt.result); got != tt.want {
				t.Errorf("IsAuthFailure = %v, want %v", got, tt.want)
			}
		})
	}
}
