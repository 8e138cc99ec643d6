package runner

import "strings"

// authMarkers are the credential-rejection phrases the backend CLIs print.
// Matching is against lowercased error text and output.
var authMarkers = []string{
	"invalid api key",
	"authentication failed",
	"authentication error",
	"not logged in",
	"please run /login",
	"401 unauthorized",
	"unauthorized",
	"oauth token has expired",
	"credentials have expired",
}

// IsAuthFailure reports whether a failed Result looks like the backend CLI
// rejecting its credentials. These failures are permanent until a human
// re-authenticates, so retrying them only burns the iteration budget.
func IsAuthFailure(r Result) bool {
	if r.Success {
		return false
	}
	haystack := strings.ToLower(r.Error + "\n" + r.Output)
	for _, marker := range authMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}
