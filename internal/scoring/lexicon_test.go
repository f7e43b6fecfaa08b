package scoring

import (
	"os"
	"path/filepath"
	"testing"
)

func writeLexiconFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "terms.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write lexicon file: %v", err)
	}
	return path
}

func TestLoadLexicon_StringArray(t *testing.T) {
	path := writeLexiconFile(t, `["badword", "another term"]`)
	lex, err := LoadLexicon(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lex.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", lex.Len())
	}
}

func TestLoadLexicon_ObjectArrayWithSeverity(t *testing.T) {
	path := writeLexiconFile(t, `[
		{"term": "badword", "severity": 4},
		{"term": "mild", "severity": 99},
		{"term": "unset"}
	]`)
	lex, err := LoadLexicon(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lex.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", lex.Len())
	}

	matches := lex.Scan("a badword in here")
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	if matches[0].Severity != 4 {
		t.Errorf("expected severity 4, got %d", matches[0].Severity)
	}

	matches = lex.Scan("very mild indeed")
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	if matches[0].Severity != 5 {
		t.Errorf("expected severity clamped to 5, got %d", matches[0].Severity)
	}

	matches = lex.Scan("unset here")
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	if matches[0].Severity != 1 {
		t.Errorf("expected default severity 1, got %d", matches[0].Severity)
	}
}

func TestLoadLexicon_BadInputs(t *testing.T) {
	if _, err := LoadLexicon(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadLexicon(writeLexiconFile(t, `{"not": "an array"}`)); err == nil {
		t.Error("expected error for non-array payload")
	}

	lex, err := LoadLexicon(writeLexiconFile(t, `["", "   ", {"severity": 3}, "ok"]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lex.Len() != 1 {
		t.Errorf("expected blank and termless entries skipped, got %d entries", lex.Len())
	}
}

func TestLexicon_WordBoundaries(t *testing.T) {
	lex := NewLexicon("bad")

	if len(lex.Scan("that was bad")) == 0 {
		t.Error("expected standalone word to match")
	}
	if len(lex.Scan("BAD things")) == 0 {
		t.Error("expected case-insensitive match")
	}
	if len(lex.Scan("badminton is fine")) != 0 {
		t.Error("substring inside a longer word must not match")
	}
}

func TestLexicon_PhraseMatch(t *testing.T) {
	lex := NewLexicon("go away")
	if len(lex.Scan("please go away now")) == 0 {
		t.Error("expected multi-word phrase to match")
	}
	if len(lex.Scan("go far away")) != 0 {
		t.Error("split phrase must not match")
	}
}

func TestLexicon_MultipleMatches(t *testing.T) {
	lex := NewLexicon("bad", "worse")
	matches := lex.Scan("bad and worse together")
	if len(matches) != 2 {
		t.Errorf("expected 2 matches, got %d", len(matches))
	}
}

func TestLexicon_EmptyAndNil(t *testing.T) {
	lex := NewLexicon()
	if len(lex.Scan("anything at all")) != 0 {
		t.Error("empty lexicon must not match")
	}

	lex = NewLexicon("bad")
	if len(lex.Scan("")) != 0 {
		t.Error("empty text must not match")
	}
	if len(lex.Scan("   ")) != 0 {
		t.Error("blank text must not match")
	}

	var nilLex *Lexicon
	if len(nilLex.Scan("text")) != 0 {
		t.Error("nil lexicon must not match")
	}
	if nilLex.Len() != 0 {
		t.Error("nil lexicon length must be 0")
	}
}
