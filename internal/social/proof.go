package social

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidProofFormat is returned when a proof URL is not a status link on a supported network
var ErrInvalidProofFormat = errors.New("invalid proof format")

// statusURL matches /<handle>/status/<id> on the two supported hosts. The id must end
// at a path, query or fragment boundary so "123abc" is rejected.
var statusURL = regexp.MustCompile(
	`^(?i:https?://)?(?i:www\.)?(?i:twitter\.com|x\.com)/(\w+)/status/(\d+)(?:[/?#]|$)`)

// Proof is the structural evidence extracted from a social post URL.
// Nothing about the referenced post is fetched or checked.
type Proof struct {
	Handle string `json:"handle"`
	PostID string `json:"post_id"`
}

// ParseProof extracts the poster handle and post id from a status URL
func ParseProof(raw string) (Proof, error) {
	m := statusURL.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Proof{}, fmt.Errorf("%w: %q", ErrInvalidProofFormat, truncate(raw, 120))
	}
	return Proof{Handle: m[1], PostID: m[2]}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
