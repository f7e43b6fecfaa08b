package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// LexiconEntry is one fallback flagging term. Severity is clamped to 1..5.
type LexiconEntry struct {
	Term     string
	Severity int
}

// Lexicon is the local term list scanned when remote classification is
// unavailable. Loaded once at startup, read-only thereafter.
type Lexicon struct {
	entries  []LexiconEntry
	patterns []*regexp.Regexp
}

// LoadLexicon reads the flag terms file. The file is a JSON array of either
// plain term strings or objects with "term" and optional "severity" fields.
// Entries without a usable term are skipped.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon file: %w", err)
	}

	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("lexicon file is not a JSON array: %w", err)
	}

	lex := &Lexicon{}
	for _, item := range items {
		var term string
		severity := 1
		switch v := item.(type) {
		case string:
			term = v
		case map[string]any:
			term, _ = v["term"].(string)
			if s, ok := v["severity"].(float64); ok {
				severity = int(s)
			}
		}
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if severity < 1 {
			severity = 1
		} else if severity > 5 {
			severity = 5
		}
		lex.add(LexiconEntry{Term: term, Severity: severity})
	}
	return lex, nil
}

// NewLexicon builds a lexicon from in-memory terms, mainly for tests.
func NewLexicon(terms ...string) *Lexicon {
	lex := &Lexicon{}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			lex.add(LexiconEntry{Term: term, Severity: 1})
		}
	}
	return lex
}

func (l *Lexicon) add(entry LexiconEntry) {
	l.entries = append(l.entries, entry)
	l.patterns = append(l.patterns,
		regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(entry.Term)+`\b`))
}

// Len reports the number of loaded terms.
func (l *Lexicon) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Scan returns the entries whose term matches text, case-insensitively on
// word boundaries. Empty text never matches.
func (l *Lexicon) Scan(text string) []LexiconEntry {
	if l == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	var matches []LexiconEntry
	for i, pattern := range l.patterns {
		if pattern.MatchString(text) {
			matches = append(matches, l.entries[i])
		}
	}
	return matches
}
