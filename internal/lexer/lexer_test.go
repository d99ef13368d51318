package lexer_test

import (
	"testing"

	"regis/internal/lexer"
	"regis/internal/token"
)

func TestNextToken_BasicProgram(t *testing.T) {
	input := `let n = 0; # comment
fn inc() {
  n += 1;
  return n;
}
export fn main() {
  @println(inc());
}
`

	tests := []struct {
		kind token.Kind
		lit  string
	}{
		{token.Let, "let"},
		{token.Ident, "n"},
		{token.Assign, "="},
		{token.Int, "0"},
		{token.Semicolon, ";"},

		{token.Fn, "fn"},
		{token.Ident, "inc"},
		{token.LParen, "("},
		{token.RParen, ")"},
		{token.LBrace, "{"},

		{token.Ident, "n"},
		{token.PlusAssign, "+="},
		{token.Int, "1"},
		{token.Semicolon, ";"},

		{token.Return, "return"},
		{token.Ident, "n"},
		{token.Semicolon, ";"},
		{token.RBrace, "}"},

		{token.Export, "export"},
		{token.Fn, "fn"},
		{token.Ident, "main"},
		{token.LParen, "("},
		{token.RParen, ")"},
		{token.LBrace, "{"},

		{token.Builtin, "println"},
		{token.LParen, "("},
		{token.Ident, "inc"},
		{token.LParen, "("},
		{token.RParen, ")"},
		{token.RParen, ")"},
		{token.Semicolon, ";"},
		{token.RBrace, "}"},

		{token.EOF, ""},
	}

	l := lexer.New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Kind != tt.kind {
			t.Fatalf("test[%d] - wrong kind. expected=%s, got=%s (lexeme %q)", i, tt.kind, tok.Kind, tok.Lexeme)
		}
		if tok.Lexeme != tt.lit {
			t.Fatalf("test[%d] - wrong lexeme. expected=%q, got=%q", i, tt.lit, tok.Lexeme)
		}
	}
}

func TestNextToken_Operators(t *testing.T) {
	input := `?? & | << >> ~ == != <= >= => .`
	kinds := []token.Kind{
		token.Coalesce, token.Amp, token.Pipe, token.Shl, token.Shr, token.Tilde,
		token.Eq, token.NotEq, token.Lte, token.Gte, token.Arrow, token.Dot, token.EOF,
	}
	l := lexer.New(input)
	for i, k := range kinds {
		tok := l.NextToken()
		if tok.Kind != k {
			t.Fatalf("test[%d] - wrong kind. expected=%s, got=%s", i, k, tok.Kind)
		}
	}
}

func TestNextToken_StringEscapes(t *testing.T) {
	l := lexer.New(`"a\nb\tc\\d\"e\0f"`)
	tok := l.NextToken()
	if tok.Kind != token.String {
		t.Fatalf("expected STRING, got %s", tok.Kind)
	}
	want := "a\nb\tc\\d\"e\x00f"
	if tok.Lexeme != want {
		t.Fatalf("expected %q, got %q", want, tok.Lexeme)
	}
}

func TestNextToken_UnterminatedString(t *testing.T) {
	l := lexer.New(`"abc`)
	tok := l.NextToken()
	if tok.Kind != token.Illegal {
		t.Fatalf("expected ILLEGAL, got %s", tok.Kind)
	}
	if len(l.Errors()) == 0 {
		t.Fatalf("expected a lex error to be recorded")
	}
}

func TestNextToken_TrailingDot(t *testing.T) {
	l := lexer.New(`1.`)
	tok := l.NextToken()
	if tok.Kind != token.Illegal {
		t.Fatalf("expected ILLEGAL for trailing '.', got %s", tok.Kind)
	}
}

func TestNextToken_FloatAndInt(t *testing.T) {
	l := lexer.New(`42 3.14`)
	tok := l.NextToken()
	if tok.Kind != token.Int || tok.Lexeme != "42" {
		t.Fatalf("expected INT 42, got %s %q", tok.Kind, tok.Lexeme)
	}
	tok = l.NextToken()
	if tok.Kind != token.Float || tok.Lexeme != "3.14" {
		t.Fatalf("expected FLOAT 3.14, got %s %q", tok.Kind, tok.Lexeme)
	}
}
