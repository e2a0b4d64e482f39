package compiler

import (
	"bufio"
	"io"
	"strconv"
)

// ---------------------------------------------------------------------------
// Codegen: VM instruction writer
// ---------------------------------------------------------------------------

// Segment is a named VM memory segment.
type Segment string

const (
	SegConstant Segment = "constant"
	SegArgument Segment = "argument"
	SegLocal    Segment = "local"
	SegStatic   Segment = "static"
	SegThis     Segment = "this"
	SegThat     Segment = "that"
	SegPointer  Segment = "pointer"
	SegTemp     Segment = "temp"
)

// Command is a zero-operand VM arithmetic or logical instruction.
type Command string

const (
	CmdAdd Command = "add"
	CmdSub Command = "sub"
	CmdNeg Command = "neg"
	CmdEq  Command = "eq"
	CmdGt  Command = "gt"
	CmdLt  Command = "lt"
	CmdAnd Command = "and"
	CmdOr  Command = "or"
	CmdNot Command = "not"
)

// OS subroutines the generated code relies on.
const (
	fnMultiply   = "Math.multiply"
	fnDivide     = "Math.divide"
	fnAlloc      = "Memory.alloc"
	fnStringNew  = "String.new"
	fnAppendChar = "String.appendChar"
)

// binaryOps maps each expression operator to the code that applies it.
var binaryOps = map[byte]func(w *Writer){
	'+': func(w *Writer) { w.WriteArithmetic(CmdAdd) },
	'-': func(w *Writer) { w.WriteArithmetic(CmdSub) },
	'*': func(w *Writer) { w.WriteCall(fnMultiply, 2) },
	'/': func(w *Writer) { w.WriteCall(fnDivide, 2) },
	'&': func(w *Writer) { w.WriteArithmetic(CmdAnd) },
	'|': func(w *Writer) { w.WriteArithmetic(CmdOr) },
	'<': func(w *Writer) { w.WriteArithmetic(CmdLt) },
	'>': func(w *Writer) { w.WriteArithmetic(CmdGt) },
	'=': func(w *Writer) { w.WriteArithmetic(CmdEq) },
}

// Writer appends VM instructions, one per line. The first write error is
// kept and every later write becomes a no-op.
type Writer struct {
	out   *bufio.Writer
	err   error
	lines int
}

// NewWriter creates a writer emitting to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: bufio.NewWriter(w)}
}

func (w *Writer) line(parts ...string) {
	if w.err != nil {
		return
	}
	for i, p := range parts {
		if i > 0 {
			w.out.WriteByte(' ')
		}
		w.out.WriteString(p)
	}
	if err := w.out.WriteByte('\n'); err != nil {
		w.err = err
		return
	}
	w.lines++
}

// WritePush emits push segment index.
func (w *Writer) WritePush(seg Segment, index int) {
	w.line("push", string(seg), strconv.Itoa(index))
}

// WritePop emits pop segment index.
func (w *Writer) WritePop(seg Segment, index int) {
	w.line("pop", string(seg), strconv.Itoa(index))
}

// WriteArithmetic emits a zero-operand command.
func (w *Writer) WriteArithmetic(cmd Command) {
	w.line(string(cmd))
}

// WriteLabel emits label name.
func (w *Writer) WriteLabel(label string) {
	w.line("label", label)
}

// WriteGoto emits goto name.
func (w *Writer) WriteGoto(label string) {
	w.line("goto", label)
}

// WriteIf emits if-goto name.
func (w *Writer) WriteIf(label string) {
	w.line("if-goto", label)
}

// WriteCall emits call name nArgs.
func (w *Writer) WriteCall(name string, nArgs int) {
	w.line("call", name, strconv.Itoa(nArgs))
}

// WriteFunction emits function name nLocals.
func (w *Writer) WriteFunction(name string, nLocals int) {
	w.line("function", name, strconv.Itoa(nLocals))
}

// WriteReturn emits return.
func (w *Writer) WriteReturn() {
	w.line("return")
}

// WriteStringConstant builds a String object holding s and leaves it on the
// stack. Each appendChar call returns the string, so no staging is needed.
func (w *Writer) WriteStringConstant(s string) {
	chars := []rune(s)
	w.WritePush(SegConstant, len(chars))
	w.WriteCall(fnStringNew, 1)
	for _, c := range chars {
		w.WritePush(SegConstant, int(c))
		w.WriteCall(fnAppendChar, 2)
	}
}

// Lines returns the number of instructions written so far.
func (w *Writer) Lines() int {
	return w.lines
}

// Flush writes buffered instructions to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.out.Flush(); err != nil {
		w.err = err
	}
	return w.err
}
