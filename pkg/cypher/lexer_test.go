package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func tokensOf(src string) []Token {
	l := NewLexer(src)
	var out []Token
	for {
		tok := l.Next()
		out = append(out, tok)
		if tok.Kind == TokEOF {
			return out
		}
	}
}

func TestLexerTokenizesKeywordsCaseInsensitively(t *testing.T) {
	toks := tokensOf("match return")
	assert.Equal(t, Token{Kind: TokKeyword, Text: "MATCH"}, toks[0])
	assert.Equal(t, Token{Kind: TokKeyword, Text: "RETURN"}, toks[1])
}

func TestLexerTokenizesIdentifiers(t *testing.T) {
	toks := tokensOf("n")
	assert.Equal(t, Token{Kind: TokIdent, Text: "n"}, toks[0])
}

func TestLexerTokenizesStringsWithEscapes(t *testing.T) {
	toks := tokensOf(`"hello \"world\""`)
	assert.Equal(t, TokString, toks[0].Kind)
	assert.Equal(t, `hello "world"`, toks[0].Text)
}

func TestLexerTokenizesSingleQuotedStrings(t *testing.T) {
	toks := tokensOf(`'abc'`)
	assert.Equal(t, Token{Kind: TokString, Text: "abc"}, toks[0])
}

func TestLexerTokenizesIntAndFloat(t *testing.T) {
	toks := tokensOf("42 3.14")
	assert.Equal(t, Token{Kind: TokInt, Text: "42"}, toks[0])
	assert.Equal(t, Token{Kind: TokFloat, Text: "3.14"}, toks[1])
}

func TestLexerTokenizesParams(t *testing.T) {
	toks := tokensOf("$name")
	assert.Equal(t, Token{Kind: TokParam, Text: "name"}, toks[0])
}

func TestLexerTokenizesMultiCharPunct(t *testing.T) {
	toks := tokensOf("<> <= >= =~ .. += -=")
	var texts []string
	for _, tok := range toks {
		if tok.Kind == TokPunct {
			texts = append(texts, tok.Text)
		}
	}
	assert.Equal(t, []string{"<>", "<=", ">=", "=~", "..", "+=", "-="}, texts)
}

func TestLexerSkipsLineComments(t *testing.T) {
	toks := tokensOf("MATCH // a comment\nRETURN")
	assert.Equal(t, "MATCH", toks[0].Text)
	assert.Equal(t, "RETURN", toks[1].Text)
}

func TestLexerEmptyInputIsImmediateEOF(t *testing.T) {
	toks := tokensOf("")
	assert.Len(t, toks, 1)
	assert.Equal(t, TokEOF, toks[0].Kind)
}

func TestLexerSingleCharPunct(t *testing.T) {
	toks := tokensOf("(){}[]:,.")
	var texts []string
	for _, tok := range toks {
		if tok.Kind == TokPunct {
			texts = append(texts, tok.Text)
		}
	}
	assert.Equal(t, []string{"(", ")", "{", "}", "[", "]", ":", ",", "."}, texts)
}
