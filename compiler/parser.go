package compiler

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: single-pass recursive descent that emits VM code as it goes
// ---------------------------------------------------------------------------

// Parser compiles exactly one class. It owns every piece of per-file state
// (symbol table, label counter, class name), so a Parser must not be reused
// for a second file.
type Parser struct {
	lexer   *Lexer
	cur     Token
	w       *Writer
	symbols *SymbolTable

	className string
	labels    int

	unit *Unit
	sub  *Subroutine
}

// NewParser creates a parser reading Jack source from src and writing VM
// instructions to out.
func NewParser(src io.Reader, out io.Writer) *Parser {
	return &Parser{
		lexer:   NewLexer(src),
		w:       NewWriter(out),
		symbols: NewSymbolTable(),
		unit:    &Unit{},
	}
}

// Parse compiles the class and flushes the generated code. On error the
// output may hold a partial instruction stream.
func (p *Parser) Parse() (*Unit, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.compileClass(); err != nil {
		return nil, err
	}
	if err := p.w.Flush(); err != nil {
		return nil, fmt.Errorf("writing VM code: %w", err)
	}
	p.unit.Instructions = p.w.Lines()
	return p.unit, nil
}

// Unit returns the outline recorded so far. After a failed Parse it holds
// everything declared before the error.
func (p *Parser) Unit() *Unit {
	return p.unit
}

// Symbols exposes the parser's symbol table.
func (p *Parser) Symbols() *SymbolTable {
	return p.symbols
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

// advance reads the next token into cur.
func (p *Parser) advance() error {
	tok, err := p.lexer.Next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *Parser) syntaxError(expected string) error {
	return &SyntaxError{Pos: p.cur.Pos, Expected: expected, Got: p.cur}
}

// expectSymbol consumes the given symbol.
func (p *Parser) expectSymbol(sym byte) error {
	if !p.cur.IsSymbol(sym) {
		return p.syntaxError(fmt.Sprintf("'%c'", sym))
	}
	return p.advance()
}

// expectKeyword consumes the given keyword.
func (p *Parser) expectKeyword(kw Keyword) error {
	if !p.cur.Is(kw) {
		return p.syntaxError(fmt.Sprintf("'%s'", kw))
	}
	return p.advance()
}

// expectIdentifier consumes an identifier and returns it.
func (p *Parser) expectIdentifier(what string) (Token, error) {
	tok := p.cur
	if tok.Kind != TokenIdentifier {
		return tok, p.syntaxError(what)
	}
	return tok, p.advance()
}

// expectType consumes int, char, boolean, a class name, or (for return
// types) void.
func (p *Parser) expectType(allowVoid bool) (string, error) {
	tok := p.cur
	switch tok.Kind {
	case TokenIdentifier:
		return tok.Text, p.advance()
	case TokenKeyword:
		switch tok.Keyword {
		case KwInt, KwChar, KwBoolean:
			return tok.Text, p.advance()
		case KwVoid:
			if allowVoid {
				return tok.Text, p.advance()
			}
		}
	}
	if allowVoid {
		return "", p.syntaxError("return type")
	}
	return "", p.syntaxError("type")
}

// nextLabel hands out the next label number for this class.
func (p *Parser) nextLabel() int {
	n := p.labels
	p.labels++
	return n
}

func (p *Parser) label(prefix string, n int) string {
	return fmt.Sprintf("%s.%s%d", p.className, prefix, n)
}

// declare defines a variable and records it in the unit outline.
func (p *Parser) declare(name Token, typ string, kind SymbolKind) {
	sym := p.symbols.Define(name.Text, typ, kind)
	decl := Declaration{Symbol: sym, Pos: name.Pos}
	if kind.classLevel() {
		p.unit.ClassVars = append(p.unit.ClassVars, decl)
	} else if p.sub != nil {
		p.sub.Vars = append(p.sub.Vars, decl)
	}
}

// pushVariable pushes a resolved variable's value.
func (p *Parser) pushVariable(sym Symbol) {
	p.w.WritePush(sym.Kind.Segment(), sym.Index)
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// compileClass: 'class' className '{' classVarDec* subroutineDec* '}'
func (p *Parser) compileClass() error {
	p.unit.Pos = p.cur.Pos
	if err := p.expectKeyword(KwClass); err != nil {
		return err
	}
	name, err := p.expectIdentifier("class name")
	if err != nil {
		return err
	}
	p.className = name.Text
	p.unit.ClassName = name.Text

	if err := p.expectSymbol('{'); err != nil {
		return err
	}

	for p.cur.Is(KwStatic) || p.cur.Is(KwField) {
		if err := p.compileClassVarDec(); err != nil {
			return err
		}
	}

	for p.cur.Is(KwConstructor) || p.cur.Is(KwFunction) || p.cur.Is(KwMethod) {
		if err := p.compileSubroutine(); err != nil {
			return err
		}
	}

	p.unit.End = p.cur.Pos
	if err := p.expectSymbol('}'); err != nil {
		return err
	}
	if p.cur.Kind != TokenEOF {
		return p.syntaxError("end of input")
	}
	return nil
}

// compileClassVarDec: ('static' | 'field') type varName (',' varName)* ';'
func (p *Parser) compileClassVarDec() error {
	kind := KindStatic
	if p.cur.Is(KwField) {
		kind = KindField
	}
	if err := p.advance(); err != nil {
		return err
	}
	return p.compileVarNames(kind)
}

// compileVarNames: type varName (',' varName)* ';'
func (p *Parser) compileVarNames(kind SymbolKind) error {
	typ, err := p.expectType(false)
	if err != nil {
		return err
	}
	for {
		name, err := p.expectIdentifier("variable name")
		if err != nil {
			return err
		}
		p.declare(name, typ, kind)

		if !p.cur.IsSymbol(',') {
			break
		}
		if err := p.advance(); err != nil {
			return err
		}
	}
	return p.expectSymbol(';')
}

// compileSubroutine:
// ('constructor' | 'function' | 'method') ('void' | type) subroutineName
// '(' parameterList ')' '{' varDec* statements '}'
func (p *Parser) compileSubroutine() error {
	sub := &Subroutine{Pos: p.cur.Pos}
	switch p.cur.Keyword {
	case KwConstructor:
		sub.Kind = SubConstructor
	case KwFunction:
		sub.Kind = SubFunction
	case KwMethod:
		sub.Kind = SubMethod
	}
	p.sub = sub
	p.unit.Subroutines = append(p.unit.Subroutines, sub)
	defer func() { p.sub = nil }()

	p.symbols.StartSubroutine()
	if sub.Kind == SubMethod {
		p.symbols.Define("this", p.className, KindArgument)
	}

	if err := p.advance(); err != nil {
		return err
	}

	// The return type is not checked against return statements.
	retType, err := p.expectType(true)
	if err != nil {
		return err
	}
	sub.ReturnType = retType

	name, err := p.expectIdentifier("subroutine name")
	if err != nil {
		return err
	}
	sub.Name = name.Text

	if err := p.expectSymbol('('); err != nil {
		return err
	}
	if err := p.compileParameterList(); err != nil {
		return err
	}
	if err := p.expectSymbol(')'); err != nil {
		return err
	}
	if err := p.expectSymbol('{'); err != nil {
		return err
	}

	for p.cur.Is(KwVar) {
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.compileVarNames(KindLocal); err != nil {
			return err
		}
	}

	sub.NumLocals = p.symbols.VarCount(KindLocal)
	log.Debugf("compiling %s %s (%d locals)", sub.Kind, sub.QualifiedName(p.className), sub.NumLocals)
	p.w.WriteFunction(sub.QualifiedName(p.className), sub.NumLocals)

	switch sub.Kind {
	case SubConstructor:
		p.w.WritePush(SegConstant, p.symbols.VarCount(KindField))
		p.w.WriteCall(fnAlloc, 1)
		p.w.WritePop(SegPointer, 0)
	case SubMethod:
		p.w.WritePush(SegArgument, 0)
		p.w.WritePop(SegPointer, 0)
	}

	if err := p.compileStatements(); err != nil {
		return err
	}

	sub.End = p.cur.Pos
	return p.expectSymbol('}')
}

// compileParameterList: ((type varName) (',' type varName)*)?
func (p *Parser) compileParameterList() error {
	if p.cur.IsSymbol(')') {
		return nil
	}
	for {
		typ, err := p.expectType(false)
		if err != nil {
			return err
		}
		name, err := p.expectIdentifier("parameter name")
		if err != nil {
			return err
		}
		p.declare(name, typ, KindArgument)

		if !p.cur.IsSymbol(',') {
			return nil
		}
		if err := p.advance(); err != nil {
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// compileStatements: statement*
func (p *Parser) compileStatements() error {
	for p.cur.Kind == TokenKeyword {
		var err error
		switch p.cur.Keyword {
		case KwLet:
			err = p.compileLet()
		case KwIf:
			err = p.compileIf()
		case KwWhile:
			err = p.compileWhile()
		case KwDo:
			err = p.compileDo()
		case KwReturn:
			err = p.compileReturn()
		default:
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// compileLet: 'let' varName ('[' expression ']')? '=' expression ';'
func (p *Parser) compileLet() error {
	if err := p.advance(); err != nil {
		return err
	}
	name, err := p.expectIdentifier("variable name")
	if err != nil {
		return err
	}
	sym, ok := p.symbols.Resolve(name.Text)
	if !ok {
		return &UnresolvedSymbolError{Pos: name.Pos, Name: name.Text}
	}

	if p.cur.IsSymbol('[') {
		// Element address first, then the value. The value is parked in
		// temp 0 since evaluating it may overwrite pointer 1.
		p.pushVariable(sym)
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.compileExpression(); err != nil {
			return err
		}
		if err := p.expectSymbol(']'); err != nil {
			return err
		}
		if err := p.expectSymbol('='); err != nil {
			return err
		}
		p.w.WriteArithmetic(CmdAdd)
		if err := p.compileExpression(); err != nil {
			return err
		}
		p.w.WritePop(SegTemp, 0)
		p.w.WritePop(SegPointer, 1)
		p.w.WritePush(SegTemp, 0)
		p.w.WritePop(SegThat, 0)
	} else {
		if err := p.expectSymbol('='); err != nil {
			return err
		}
		if err := p.compileExpression(); err != nil {
			return err
		}
		p.w.WritePop(sym.Kind.Segment(), sym.Index)
	}

	return p.expectSymbol(';')
}

// compileIf: 'if' '(' expression ')' '{' statements '}' ('else' '{' statements '}')?
func (p *Parser) compileIf() error {
	n := p.nextLabel()
	falseLabel := p.label("IF_FALSE", n)

	if err := p.advance(); err != nil {
		return err
	}
	if err := p.compileCondition(); err != nil {
		return err
	}
	p.w.WriteIf(falseLabel)

	if err := p.compileBlock(); err != nil {
		return err
	}

	if !p.cur.Is(KwElse) {
		p.w.WriteLabel(falseLabel)
		return nil
	}

	endLabel := p.label("END_IF", n)
	p.w.WriteGoto(endLabel)
	p.w.WriteLabel(falseLabel)
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.compileBlock(); err != nil {
		return err
	}
	p.w.WriteLabel(endLabel)
	return nil
}

// compileWhile: 'while' '(' expression ')' '{' statements '}'
func (p *Parser) compileWhile() error {
	n := p.nextLabel()
	topLabel := p.label("BEGIN_WHILE", n)
	endLabel := p.label("END_WHILE", n)

	if err := p.advance(); err != nil {
		return err
	}
	p.w.WriteLabel(topLabel)
	if err := p.compileCondition(); err != nil {
		return err
	}
	p.w.WriteIf(endLabel)

	if err := p.compileBlock(); err != nil {
		return err
	}
	p.w.WriteGoto(topLabel)
	p.w.WriteLabel(endLabel)
	return nil
}

// compileCondition: '(' expression ')', leaving the negated value on the stack.
func (p *Parser) compileCondition() error {
	if err := p.expectSymbol('('); err != nil {
		return err
	}
	if err := p.compileExpression(); err != nil {
		return err
	}
	p.w.WriteArithmetic(CmdNot)
	return p.expectSymbol(')')
}

// compileBlock: '{' statements '}'
func (p *Parser) compileBlock() error {
	if err := p.expectSymbol('{'); err != nil {
		return err
	}
	if err := p.compileStatements(); err != nil {
		return err
	}
	return p.expectSymbol('}')
}

// compileDo: 'do' subroutineCall ';'
func (p *Parser) compileDo() error {
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.compileSubroutineCall(); err != nil {
		return err
	}
	if err := p.expectSymbol(';'); err != nil {
		return err
	}
	p.w.WritePop(SegTemp, 0)
	return nil
}

// compileReturn: 'return' expression? ';'
func (p *Parser) compileReturn() error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.cur.IsSymbol(';') {
		// Callers always pop a result, void subroutines included.
		p.w.WritePush(SegConstant, 0)
	} else if err := p.compileExpression(); err != nil {
		return err
	}
	if err := p.expectSymbol(';'); err != nil {
		return err
	}
	p.w.WriteReturn()
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// compileExpression: term (op term)*
// Operators apply strictly left to right; the language has no precedence.
func (p *Parser) compileExpression() error {
	if err := p.compileTerm(); err != nil {
		return err
	}
	for p.cur.Kind == TokenSymbol {
		op, ok := binaryOps[p.cur.Text[0]]
		if !ok {
			return nil
		}
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.compileTerm(); err != nil {
			return err
		}
		op(p.w)
	}
	return nil
}

// compileTerm:
// integerConstant | stringConstant | keywordConstant | varName |
// varName '[' expression ']' | subroutineCall | '(' expression ')' | unaryOp term
func (p *Parser) compileTerm() error {
	tok := p.cur
	switch tok.Kind {
	case TokenIntegerConstant:
		n, err := strconv.Atoi(tok.Text)
		if err != nil {
			return p.syntaxError("integer constant")
		}
		p.w.WritePush(SegConstant, n)
		return p.advance()

	case TokenStringConstant:
		p.w.WriteStringConstant(tok.Text)
		return p.advance()

	case TokenKeyword:
		switch tok.Keyword {
		case KwTrue:
			p.w.WritePush(SegConstant, 0)
			p.w.WriteArithmetic(CmdNot)
		case KwFalse, KwNull:
			p.w.WritePush(SegConstant, 0)
		case KwThis:
			p.w.WritePush(SegPointer, 0)
		default:
			return p.syntaxError("term")
		}
		return p.advance()

	case TokenIdentifier:
		sym, ok := p.symbols.Resolve(tok.Text)
		if !ok {
			return p.compileSubroutineCall()
		}
		if err := p.advance(); err != nil {
			return err
		}
		p.pushVariable(sym)
		switch {
		case p.cur.IsSymbol('['):
			if err := p.advance(); err != nil {
				return err
			}
			if err := p.compileExpression(); err != nil {
				return err
			}
			p.w.WriteArithmetic(CmdAdd)
			p.w.WritePop(SegPointer, 1)
			p.w.WritePush(SegThat, 0)
			return p.expectSymbol(']')
		case p.cur.IsSymbol('.'):
			return p.compileMethodCall(sym)
		}
		return nil

	case TokenSymbol:
		switch tok.Text[0] {
		case '(':
			if err := p.advance(); err != nil {
				return err
			}
			if err := p.compileExpression(); err != nil {
				return err
			}
			return p.expectSymbol(')')
		case '-':
			return p.compileUnary(CmdNeg)
		case '~':
			return p.compileUnary(CmdNot)
		}
	}

	return p.syntaxError("term")
}

// compileUnary: unaryOp term
func (p *Parser) compileUnary(cmd Command) error {
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.compileTerm(); err != nil {
		return err
	}
	p.w.WriteArithmetic(cmd)
	return nil
}

// compileSubroutineCall:
// subroutineName '(' expressionList ')' |
// (className | varName) '.' subroutineName '(' expressionList ')'
func (p *Parser) compileSubroutineCall() error {
	name, err := p.expectIdentifier("subroutine, class or variable name")
	if err != nil {
		return err
	}

	if sym, ok := p.symbols.Resolve(name.Text); ok {
		p.pushVariable(sym)
		return p.compileMethodCall(sym)
	}

	switch {
	case p.cur.IsSymbol('.'):
		// Not a variable, so it names a class: a function or constructor call.
		if err := p.advance(); err != nil {
			return err
		}
		sub, err := p.expectIdentifier("subroutine name")
		if err != nil {
			return err
		}
		nArgs, err := p.compileArguments()
		if err != nil {
			return err
		}
		p.w.WriteCall(name.Text+"."+sub.Text, nArgs)
		return nil

	case p.cur.IsSymbol('('):
		// Method of the current object.
		p.w.WritePush(SegPointer, 0)
		nArgs, err := p.compileArguments()
		if err != nil {
			return err
		}
		p.w.WriteCall(p.className+"."+name.Text, nArgs+1)
		return nil
	}

	return &UnresolvedSymbolError{Pos: name.Pos, Name: name.Text}
}

// compileMethodCall: '.' subroutineName '(' expressionList ')' on a variable
// whose value has already been pushed as the receiver.
func (p *Parser) compileMethodCall(receiver Symbol) error {
	if err := p.expectSymbol('.'); err != nil {
		return err
	}
	sub, err := p.expectIdentifier("subroutine name")
	if err != nil {
		return err
	}
	nArgs, err := p.compileArguments()
	if err != nil {
		return err
	}
	p.w.WriteCall(receiver.Type+"."+sub.Text, nArgs+1)
	return nil
}

// compileArguments: '(' expressionList ')'
func (p *Parser) compileArguments() (int, error) {
	if err := p.expectSymbol('('); err != nil {
		return 0, err
	}
	n, err := p.compileExpressionList()
	if err != nil {
		return 0, err
	}
	return n, p.expectSymbol(')')
}

// compileExpressionList: (expression (',' expression)*)?
func (p *Parser) compileExpressionList() (int, error) {
	if p.cur.IsSymbol(')') {
		return 0, nil
	}
	n := 0
	for {
		if err := p.compileExpression(); err != nil {
			return n, err
		}
		n++
		if !p.cur.IsSymbol(',') {
			return n, nil
		}
		if err := p.advance(); err != nil {
			return n, err
		}
	}
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Compile compiles one Jack class read from src and writes its VM code to out.
func Compile(src io.Reader, out io.Writer) (*Unit, error) {
	return NewParser(src, out).Parse()
}

// CompileString compiles Jack source held in memory and returns the VM code.
func CompileString(src string) (string, *Unit, error) {
	var sb strings.Builder
	unit, err := Compile(strings.NewReader(src), &sb)
	if err != nil {
		return "", nil, err
	}
	return sb.String(), unit, nil
}
