package retrieval

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/core/textproc"
)

const (
	fingerprintPrefixChars = 500
	leadingPrefixChars     = 200
)

// Fingerprint identifies a passage by its normalized opening text and its
// location. Two passages with equal fingerprints are treated as the same
// passage without comparing full text.
func Fingerprint(p domain.Passage) string {
	head := textproc.Normalize(textproc.Prefix(p.Text, fingerprintPrefixChars))
	key := head + "|" + p.Meta.BookTitle + "|" + strconv.Itoa(p.Meta.Page) + "|" + p.Meta.ChapterTitle
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

func leadingKey(p domain.Passage) string {
	return textproc.Prefix(textproc.Normalize(p.Text), leadingPrefixChars)
}

// Dedup keeps the first occurrence of every passage, dropping later ones that
// share a fingerprint or the same normalized leading text. It is idempotent.
func Dedup(passages []domain.Passage) []domain.Passage {
	if len(passages) == 0 {
		return nil
	}
	seen := newSeenSet(len(passages))
	out := make([]domain.Passage, 0, len(passages))
	for _, p := range passages {
		if seen.add(p) {
			out = append(out, p)
		}
	}
	return out
}

type seenSet struct {
	fingerprints map[string]struct{}
	leading      map[string]struct{}
}

func newSeenSet(size int) *seenSet {
	return &seenSet{
		fingerprints: make(map[string]struct{}, size),
		leading:      make(map[string]struct{}, size),
	}
}

func (s *seenSet) contains(p domain.Passage) bool {
	if _, ok := s.fingerprints[Fingerprint(p)]; ok {
		return true
	}
	if lead := leadingKey(p); lead != "" {
		if _, ok := s.leading[lead]; ok {
			return true
		}
	}
	return false
}

// add records p and reports whether it was new.
func (s *seenSet) add(p domain.Passage) bool {
	if s.contains(p) {
		return false
	}
	s.fingerprints[Fingerprint(p)] = struct{}{}
	if lead := leadingKey(p); lead != "" {
		s.leading[lead] = struct{}{}
	}
	return true
}
