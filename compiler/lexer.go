package compiler

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// ---------------------------------------------------------------------------
// Lexer: on-demand tokenizer for Jack source
// ---------------------------------------------------------------------------

// maxIntConstant is the largest integer constant the target word can hold.
const maxIntConstant = 32767

// Lexer produces tokens one at a time from a reader. It never buffers more
// than the current character plus one byte of lookahead.
type Lexer struct {
	r    *bufio.Reader
	ch   rune // current character
	eof  bool // true once the reader is exhausted
	line int  // line of ch (1-based)
	col  int  // column of ch (1-based)
	err  error
}

// NewLexer creates a new lexer reading from r.
func NewLexer(r io.Reader) *Lexer {
	l := &Lexer{
		r:    bufio.NewReader(r),
		line: 1,
	}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.eof {
		return
	}
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	r, _, err := l.r.ReadRune()
	if err != nil {
		if err != io.EOF {
			l.err = err
		}
		l.ch = 0
		l.eof = true
		l.col++
		return
	}
	l.ch = r
	l.col++
}

// peekChar returns the byte after the current character without consuming it.
func (l *Lexer) peekChar() byte {
	b, err := l.r.Peek(1)
	if err != nil || len(b) == 0 {
		return 0
	}
	return b[0]
}

// position returns the position of the current character.
func (l *Lexer) position() Position {
	return Position{Line: l.line, Column: l.col}
}

// Next returns the next token. At end of input it returns a TokenEOF token;
// malformed input yields a *LexError.
func (l *Lexer) Next() (Token, error) {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return Token{}, err
	}
	if l.err != nil {
		return Token{}, fmt.Errorf("reading source: %w", l.err)
	}

	pos := l.position()

	switch {
	case l.eof:
		return Token{Kind: TokenEOF, Pos: pos}, nil

	case l.ch < 0x80 && IsSymbolChar(byte(l.ch)):
		sym := string(l.ch)
		l.readChar()
		return Token{Kind: TokenSymbol, Text: sym, Pos: pos}, nil

	case l.ch == '"':
		return l.readString(pos)

	case isDigit(l.ch):
		return l.readInteger(pos)

	case isLetter(l.ch) || l.ch == '_':
		return l.readIdentifierOrKeyword(pos), nil

	default:
		return Token{}, &LexError{Pos: pos, Msg: fmt.Sprintf("unexpected character %q", l.ch)}
	}
}

// skipWhitespaceAndComments skips whitespace, // comments and /* */ comments.
func (l *Lexer) skipWhitespaceAndComments() error {
	for {
		for !l.eof && unicode.IsSpace(l.ch) {
			l.readChar()
		}

		if l.eof || l.ch != '/' {
			return nil
		}

		switch l.peekChar() {
		case '/':
			for !l.eof && l.ch != '\n' {
				l.readChar()
			}
		case '*':
			start := l.position()
			l.readChar() // consume /
			l.readChar() // consume *
			for {
				if l.eof {
					return &LexError{Pos: start, Msg: "unterminated block comment, expected */ before end of input"}
				}
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}
		default:
			// A lone slash is the division symbol.
			return nil
		}
	}
}

// readString reads a string constant. It must close on the same line.
func (l *Lexer) readString(pos Position) (Token, error) {
	l.readChar() // consume opening "

	var sb strings.Builder
	for !l.eof && l.ch != '"' && l.ch != '\n' {
		sb.WriteRune(l.ch)
		l.readChar()
	}
	if l.ch != '"' || l.eof {
		return Token{}, &LexError{Pos: pos, Msg: "unterminated string constant"}
	}
	l.readChar() // consume closing "

	return Token{Kind: TokenStringConstant, Text: sb.String(), Pos: pos}, nil
}

// readInteger reads a maximal run of digits.
func (l *Lexer) readInteger(pos Position) (Token, error) {
	var sb strings.Builder
	for !l.eof && isDigit(l.ch) {
		sb.WriteRune(l.ch)
		l.readChar()
	}

	text := sb.String()
	if n, err := strconv.Atoi(text); err != nil || n > maxIntConstant {
		return Token{}, &LexError{Pos: pos, Msg: fmt.Sprintf("integer constant %s out of range 0..%d", text, maxIntConstant)}
	}
	return Token{Kind: TokenIntegerConstant, Text: text, Pos: pos}, nil
}

// readIdentifierOrKeyword reads an identifier and classifies reserved words.
func (l *Lexer) readIdentifierOrKeyword(pos Position) Token {
	var sb strings.Builder
	for !l.eof && (isLetter(l.ch) || isDigit(l.ch) || l.ch == '_') {
		sb.WriteRune(l.ch)
		l.readChar()
	}

	word := sb.String()
	if kw, ok := reservedWords[word]; ok {
		return Token{Kind: TokenKeyword, Text: word, Keyword: kw, Pos: pos}
	}
	return Token{Kind: TokenIdentifier, Text: word, Pos: pos}
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Tokenize returns all tokens of src up to and including EOF.
func Tokenize(src string) ([]Token, error) {
	l := NewLexer(strings.NewReader(src))
	var tokens []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == TokenEOF {
			return tokens, nil
		}
	}
}
