package compiler

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// SymbolTable: class and subroutine scopes
// ---------------------------------------------------------------------------

// SymbolKind is the storage class of a variable.
type SymbolKind int

const (
	KindStatic SymbolKind = iota
	KindField
	KindArgument
	KindLocal
)

func (k SymbolKind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindField:
		return "field"
	case KindArgument:
		return "argument"
	case KindLocal:
		return "local"
	}
	return fmt.Sprintf("SymbolKind(%d)", k)
}

// Segment returns the VM segment a variable of this kind lives in. Fields
// are addressed through the receiver's instance storage.
func (k SymbolKind) Segment() Segment {
	switch k {
	case KindStatic:
		return SegStatic
	case KindField:
		return SegThis
	case KindArgument:
		return SegArgument
	default:
		return SegLocal
	}
}

func (k SymbolKind) classLevel() bool {
	return k == KindStatic || k == KindField
}

// Symbol is a resolved variable.
type Symbol struct {
	Name  string
	Type  string
	Kind  SymbolKind
	Index int
}

// scope holds one level of names with a running index per kind.
type scope struct {
	names  map[string]Symbol
	counts map[SymbolKind]int
}

func newScope() *scope {
	return &scope{
		names:  make(map[string]Symbol),
		counts: make(map[SymbolKind]int),
	}
}

// SymbolTable resolves names against the current subroutine scope and then
// the class scope.
type SymbolTable struct {
	class      *scope
	subroutine *scope
}

// NewSymbolTable creates a table with an empty class scope and an empty
// subroutine scope.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		class:      newScope(),
		subroutine: newScope(),
	}
}

// StartSubroutine discards the subroutine scope and its counters.
func (s *SymbolTable) StartSubroutine() {
	s.subroutine = newScope()
}

// Define adds a variable and assigns it the next index for its kind.
// Redefining a name in the same scope replaces the earlier entry; the counter
// still advances, so the old slot stays allocated.
func (s *SymbolTable) Define(name, typ string, kind SymbolKind) Symbol {
	sc := s.subroutine
	if kind.classLevel() {
		sc = s.class
	}

	if prev, ok := sc.names[name]; ok {
		log.Warningf("redefinition of %q (was %s %s %d)", name, prev.Kind, prev.Type, prev.Index)
	}

	sym := Symbol{Name: name, Type: typ, Kind: kind, Index: sc.counts[kind]}
	sc.names[name] = sym
	sc.counts[kind]++
	return sym
}

// Resolve looks up name in the subroutine scope, then the class scope.
func (s *SymbolTable) Resolve(name string) (Symbol, bool) {
	if sym, ok := s.subroutine.names[name]; ok {
		return sym, true
	}
	sym, ok := s.class.names[name]
	return sym, ok
}

// VarCount returns how many variables of kind are defined in its scope.
func (s *SymbolTable) VarCount(kind SymbolKind) int {
	if kind.classLevel() {
		return s.class.counts[kind]
	}
	return s.subroutine.counts[kind]
}

// Operand maps a variable name to its VM segment and index.
func (s *SymbolTable) Operand(name string) (Segment, int, error) {
	sym, ok := s.Resolve(name)
	if !ok {
		return "", 0, &UnresolvedSymbolError{Name: name}
	}
	return sym.Kind.Segment(), sym.Index, nil
}

// ClassSymbols returns the class-scope symbols ordered by kind and index.
func (s *SymbolTable) ClassSymbols() []Symbol {
	return s.class.sorted()
}

// SubroutineSymbols returns the subroutine-scope symbols ordered by kind and
// index.
func (s *SymbolTable) SubroutineSymbols() []Symbol {
	return s.subroutine.sorted()
}

func (sc *scope) sorted() []Symbol {
	syms := make([]Symbol, 0, len(sc.names))
	for _, sym := range sc.names {
		syms = append(syms, sym)
	}
	sort.Slice(syms, func(i, j int) bool {
		if syms[i].Kind != syms[j].Kind {
			return syms[i].Kind < syms[j].Kind
		}
		return syms[i].Index < syms[j].Index
	})
	return syms
}
