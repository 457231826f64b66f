package utils

import (
	"strings"

	"golang.org/x/text/cases"
)

// replyForwardPrefixes are the subject prefixes stripped during normalization.
// Checked case-insensitively and repeatedly, so "Re: Fwd: Re: Quote"
// normalizes all the way down to "Quote".
var replyForwardPrefixes = []string{"re:", "fwd:", "fw:", "forward:"}

var foldCaser = cases.Fold()

// NormalizeSubject strips reply/forward prefixes and collapses whitespace so
// that subjects can be compared across a thread
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)

	for {
		stripped := false
		lower := strings.ToLower(s)
		for _, prefix := range replyForwardPrefixes {
			if strings.HasPrefix(lower, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}

	// Collapse internal whitespace runs to single spaces
	return strings.Join(strings.Fields(s), " ")
}

// IsForwardSubject reports whether the subject carries a forward prefix
func IsForwardSubject(subject string) bool {
	lower := strings.ToLower(strings.TrimSpace(subject))
	for _, prefix := range []string{"fwd:", "fw:", "forward:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// NormalizeAddress case-folds and trims an email address so the same sender
// always maps to the same serialization key and history lookups
func NormalizeAddress(addr string) string {
	return foldCaser.String(strings.TrimSpace(addr))
}

// CleanMessageID removes the angle brackets RFC message ids are wrapped in
func CleanMessageID(msgID string) string {
	msgID = strings.TrimSpace(msgID)
	msgID = strings.TrimPrefix(msgID, "<")
	msgID = strings.TrimSuffix(msgID, ">")
	return msgID
}

// SplitReferences parses a raw References header value into an ordered list of
// message ids, oldest first, with angle brackets removed
func SplitReferences(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	fields := strings.Fields(strings.ReplaceAll(raw, "\r", " "))
	refs := make([]string, 0, len(fields))
	for _, f := range fields {
		if id := CleanMessageID(f); id != "" {
			refs = append(refs, id)
		}
	}
	return refs
}

// JoinReferences renders an ordered reference list back to header form for storage
func JoinReferences(refs []string) string {
	return strings.Join(refs, " ")
}
