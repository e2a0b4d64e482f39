package compiler

import "fmt"

// SubroutineKind distinguishes the three subroutine forms.
type SubroutineKind int

const (
	SubConstructor SubroutineKind = iota
	SubFunction
	SubMethod
)

func (k SubroutineKind) String() string {
	switch k {
	case SubConstructor:
		return "constructor"
	case SubFunction:
		return "function"
	case SubMethod:
		return "method"
	}
	return fmt.Sprintf("SubroutineKind(%d)", k)
}

// Declaration is a symbol together with where it was declared.
type Declaration struct {
	Symbol
	Pos Position
}

// Subroutine describes one compiled subroutine.
type Subroutine struct {
	Kind       SubroutineKind
	Name       string
	ReturnType string
	Pos        Position // position of the constructor/function/method keyword
	End        Position // position of the closing brace; zero while unfinished
	NumLocals  int
	Vars       []Declaration // parameters and locals, in declaration order
}

// QualifiedName returns Class.name as used in function and call instructions.
func (s *Subroutine) QualifiedName(class string) string {
	return class + "." + s.Name
}

// Unit is the outline of one compiled class. It is recorded while code is
// emitted and has no influence on the generated instructions.
type Unit struct {
	ClassName    string
	Pos          Position
	End          Position
	ClassVars    []Declaration
	Subroutines  []*Subroutine
	Instructions int
}

// NumFields returns the number of field variables, which is also the size of
// every instance the constructors allocate.
func (u *Unit) NumFields() int {
	n := 0
	for _, d := range u.ClassVars {
		if d.Kind == KindField {
			n++
		}
	}
	return n
}

// SubroutineAt returns the subroutine whose body spans line, or nil.
func (u *Unit) SubroutineAt(line int) *Subroutine {
	for _, s := range u.Subroutines {
		if line >= s.Pos.Line && (s.End.Line == 0 || line <= s.End.Line) {
			return s
		}
	}
	return nil
}

// Lookup resolves name as seen from line, preferring the enclosing
// subroutine's variables over class variables. Later declarations of the same
// name win, matching SymbolTable.Define.
func (u *Unit) Lookup(name string, line int) (Declaration, bool) {
	if s := u.SubroutineAt(line); s != nil {
		if d, ok := lastDeclaration(s.Vars, name); ok {
			return d, true
		}
	}
	return lastDeclaration(u.ClassVars, name)
}

func lastDeclaration(decls []Declaration, name string) (Declaration, bool) {
	for i := len(decls) - 1; i >= 0; i-- {
		if decls[i].Name == name {
			return decls[i], true
		}
	}
	return Declaration{}, false
}
