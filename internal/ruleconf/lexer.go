package ruleconf

import (
	"fmt"
	"strings"
)

// token is one lexical unit of the DSL: either a punctuation symbol
// ("{", "}", "[", "]", "=", "=>") or a bare word (an identifier, number,
// or address literal).
type token struct {
	text string
	line int
}

const punctuation = "{}[]"

// lex tokenizes the whole DSL source. Comments start at '#' and run to
// end of line; tokens are whitespace-separated except that a brace or
// bracket glued to an adjacent word is split into its own token, so
// "any[" and "]" need not be hand-spaced by the config author.
func lex(src string) []token {
	var toks []token

	lineNo := 0

	for _, rawLine := range strings.Split(src, "\n") {
		lineNo++

		line := rawLine
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}

		for _, word := range strings.Fields(line) {
			toks = append(toks, splitPunctuation(word, lineNo)...)
		}
	}

	return toks
}

func splitPunctuation(word string, line int) []token {
	var out []token

	start := 0

	flush := func(end int) {
		if end > start {
			out = append(out, token{text: word[start:end], line: line})
		}
	}

	for i := 0; i < len(word); i++ {
		if strings.IndexByte(punctuation, word[i]) >= 0 {
			flush(i)
			out = append(out, token{text: word[i : i+1], line: line})
			start = i + 1
		}
	}

	flush(len(word))

	return out
}

// tokenStream is a cursor over a token slice with one-token lookahead,
// used by the recursive-descent parser in parser.go.
type tokenStream struct {
	toks []token
	pos  int
}

func newTokenStream(toks []token) *tokenStream {
	return &tokenStream{toks: toks}
}

func (s *tokenStream) peek() (token, bool) {
	if s.pos >= len(s.toks) {
		return token{}, false
	}

	return s.toks[s.pos], true
}

func (s *tokenStream) next() (token, bool) {
	t, ok := s.peek()
	if ok {
		s.pos++
	}

	return t, ok
}

func (s *tokenStream) expect(text string) (token, error) {
	t, ok := s.next()
	if !ok {
		return token{}, fmt.Errorf("unexpected end of input, expected %q", text)
	}

	if t.text != text {
		return token{}, fmt.Errorf("line %d: expected %q, got %q", t.line, text, t.text)
	}

	return t, nil
}

func (s *tokenStream) atEnd() bool {
	_, ok := s.peek()
	return !ok
}
