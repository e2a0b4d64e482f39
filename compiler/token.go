package compiler

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Token types for the Jack lexer
// ---------------------------------------------------------------------------

// TokenKind classifies a token.
type TokenKind int

const (
	TokenEOF TokenKind = iota

	TokenKeyword         // class, let, while, ...
	TokenSymbol          // { } ( ) [ ] . , ; + - * / & | < > = ~
	TokenIntegerConstant // 0 .. 32767
	TokenStringConstant  // "hello", quotes stripped
	TokenIdentifier      // foo, Bar, _tmp
)

var tokenKindNames = map[TokenKind]string{
	TokenEOF:             "EOF",
	TokenKeyword:         "keyword",
	TokenSymbol:          "symbol",
	TokenIntegerConstant: "integerConstant",
	TokenStringConstant:  "stringConstant",
	TokenIdentifier:      "identifier",
}

func (k TokenKind) String() string {
	if name, ok := tokenKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TokenKind(%d)", k)
}

// Keyword identifies a reserved word. Only meaningful on TokenKeyword tokens.
type Keyword int

const (
	KwNone Keyword = iota
	KwClass
	KwConstructor
	KwFunction
	KwMethod
	KwField
	KwStatic
	KwVar
	KwInt
	KwChar
	KwBoolean
	KwVoid
	KwTrue
	KwFalse
	KwNull
	KwThis
	KwLet
	KwDo
	KwIf
	KwElse
	KwWhile
	KwReturn
)

// Reserved words mapped to their keyword.
var reservedWords = map[string]Keyword{
	"class":       KwClass,
	"constructor": KwConstructor,
	"function":    KwFunction,
	"method":      KwMethod,
	"field":       KwField,
	"static":      KwStatic,
	"var":         KwVar,
	"int":         KwInt,
	"char":        KwChar,
	"boolean":     KwBoolean,
	"void":        KwVoid,
	"true":        KwTrue,
	"false":       KwFalse,
	"null":        KwNull,
	"this":        KwThis,
	"let":         KwLet,
	"do":          KwDo,
	"if":          KwIf,
	"else":        KwElse,
	"while":       KwWhile,
	"return":      KwReturn,
}

var keywordNames = func() map[Keyword]string {
	m := make(map[Keyword]string, len(reservedWords))
	for name, kw := range reservedWords {
		m[kw] = name
	}
	return m
}()

func (k Keyword) String() string {
	if name, ok := keywordNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Keyword(%d)", k)
}

// LookupKeyword reports whether ident is a reserved word.
func LookupKeyword(ident string) (Keyword, bool) {
	kw, ok := reservedWords[ident]
	return kw, ok
}

// Keywords returns every reserved word in sorted order.
func Keywords() []string {
	words := make([]string, 0, len(reservedWords))
	for w := range reservedWords {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}

// Position is a 1-based source location.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token represents a lexical token.
type Token struct {
	Kind    TokenKind
	Text    string  // raw text; string constants without their quotes
	Keyword Keyword // set for TokenKeyword
	Pos     Position
}

// Is reports whether t is the given keyword.
func (t Token) Is(kw Keyword) bool {
	return t.Kind == TokenKeyword && t.Keyword == kw
}

// IsSymbol reports whether t is the given single-character symbol.
func (t Token) IsSymbol(sym byte) bool {
	return t.Kind == TokenSymbol && len(t.Text) == 1 && t.Text[0] == sym
}

func (t Token) String() string {
	switch t.Kind {
	case TokenEOF:
		return "EOF"
	case TokenStringConstant:
		if len(t.Text) > 20 {
			return fmt.Sprintf("%s(%q...)", t.Kind, t.Text[:20])
		}
		return fmt.Sprintf("%s(%q)", t.Kind, t.Text)
	}
	return fmt.Sprintf("%s(%s)", t.Kind, t.Text)
}

// IsSymbolChar returns true if c is one of the single-character symbols.
func IsSymbolChar(c byte) bool {
	switch c {
	case '{', '}', '(', ')', '[', ']', '.', ',', ';', '+', '-', '*', '/', '&', '|', '<', '>', '=', '~':
		return true
	}
	return false
}
