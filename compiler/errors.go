package compiler

import (
	"errors"
	"fmt"
)

// LexError reports malformed input the lexer cannot turn into a token, most
// notably a block comment still open at end of input.
type LexError struct {
	Pos Position
	Msg string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("line %d, column %d: lexical error: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// SyntaxError reports a token that matches no expected production.
type SyntaxError struct {
	Pos      Position
	Expected string
	Got      Token
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: syntax error: expected %s, got %s", e.Pos.Line, e.Pos.Column, e.Expected, e.Got)
}

// UnresolvedSymbolError reports an identifier used as a variable that is not
// defined in the subroutine or class scope.
type UnresolvedSymbolError struct {
	Pos  Position
	Name string
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("line %d, column %d: undefined variable %q", e.Pos.Line, e.Pos.Column, e.Name)
}

// ErrorPosition extracts the source position from a compiler error, looking
// through any wrapping.
func ErrorPosition(err error) (Position, bool) {
	var lexErr *LexError
	if errors.As(err, &lexErr) {
		return lexErr.Pos, true
	}
	var synErr *SyntaxError
	if errors.As(err, &synErr) {
		return synErr.Pos, true
	}
	var symErr *UnresolvedSymbolError
	if errors.As(err, &symErr) {
		return symErr.Pos, true
	}
	return Position{}, false
}
