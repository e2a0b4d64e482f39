package compiler

import (
	"strconv"
	"strings"
	"testing"
)

// Integration tests: compile real Jack programs and execute the generated VM
// code on a small stack machine.

func TestIntegrationRecursionAndArithmetic(t *testing.T) {
	m := compileAndLoad(t, `
class Main {
    function int fact(int n) {
        if (n < 2) { return 1; }
        return n * Main.fact(n - 1);
    }

    function int fib(int n) {
        if (n < 2) { return n; }
        return Main.fib(n - 1) + Main.fib(n - 2);
    }

    function void main() {
        do Output.printInt(Main.fact(7));
        do Output.printInt(Main.fib(10));
        do Output.printInt(1 + 2 * 3);
        do Output.printInt(~(3 < 2) & (1 = 1));
        do Output.printInt(-7 / 2);
        return;
    }
}`)
	assertOutput(t, m.run(), "5040", "55", "9", "-1", "-3")
}

func TestIntegrationObjects(t *testing.T) {
	m := compileAndLoad(t, `
class Point {
    field int x, y;
    static int count;

    constructor Point new(int ax, int ay) {
        let x = ax;
        let y = ay;
        let count = count + 1;
        return this;
    }

    method int getX() { return x; }
    method int getY() { return y; }

    method Point plus(Point other) {
        return Point.new(x + other.getX(), y + other.getY());
    }

    method void scale(int k) {
        let x = x * k;
        let y = y * k;
        return;
    }

    function int created() { return count; }
}`, `
class Main {
    function void main() {
        var Point a, b, c;
        let a = Point.new(1, 2);
        let b = Point.new(10, 20);
        let c = a.plus(b);
        do c.scale(3);
        do Output.printInt(c.getX());
        do Output.printInt(c.getY());
        do Output.printInt(a.getX());
        do Output.printInt(Point.created());
        return;
    }
}`)
	assertOutput(t, m.run(), "33", "66", "1", "3")
}

func TestIntegrationArraysAndStrings(t *testing.T) {
	m := compileAndLoad(t, `
class Main {
    function int sum(Array a, int n) {
        var int i, total;
        let i = 0;
        let total = 0;
        while (i < n) {
            let total = total + a[i];
            let i = i + 1;
        }
        return total;
    }

    function void main() {
        var Array a;
        var int i;
        var String s;
        let a = Array.new(5);
        let i = 0;
        while (i < 5) {
            let a[i] = i * i;
            let i = i + 1;
        }
        do Output.printInt(Main.sum(a, 5));
        let a[0] = a[1] + a[2];
        do Output.printInt(a[0]);
        let a[a[2]] = 7;
        do Output.printInt(a[4]);
        let s = "Hello";
        do Output.printString(s);
        return;
    }
}`)
	assertOutput(t, m.run(), "30", "5", "7", "Hello")
}

func assertOutput(t *testing.T, got []string, want ...string) {
	t.Helper()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("output = %v, want %v", got, want)
	}
}

func compileAndLoad(t *testing.T, sources ...string) *stackMachine {
	t.Helper()
	var programs []string
	for _, src := range sources {
		out, _, err := CompileString(src)
		if err != nil {
			t.Fatalf("compile error: %v", err)
		}
		programs = append(programs, out)
	}
	return loadProgram(t, programs...)
}

// ---------------------------------------------------------------------------
// Stack machine
// ---------------------------------------------------------------------------

const maxSteps = 1_000_000

type vmFunction struct {
	locals int
	code   [][]string
	labels map[string]int
}

type vmFrame struct {
	class      string
	args       []int
	locals     []int
	this, that int
}

type stackMachine struct {
	t       *testing.T
	funcs   map[string]*vmFunction
	heap    []int
	free    int
	statics map[string][]int
	temp    [8]int
	output  []string
	steps   int
}

func loadProgram(t *testing.T, programs ...string) *stackMachine {
	t.Helper()
	m := &stackMachine{
		t:       t,
		funcs:   map[string]*vmFunction{},
		heap:    make([]int, 16384),
		free:    2048,
		statics: map[string][]int{},
	}
	for _, prog := range programs {
		var cur *vmFunction
		for _, line := range strings.Split(prog, "\n") {
			f := strings.Fields(line)
			if len(f) == 0 {
				continue
			}
			if f[0] == "function" {
				cur = &vmFunction{locals: atoi(t, f[2]), labels: map[string]int{}}
				m.funcs[f[1]] = cur
				continue
			}
			if cur == nil {
				t.Fatalf("instruction outside a function: %q", line)
			}
			if f[0] == "label" {
				cur.labels[f[1]] = len(cur.code)
			}
			cur.code = append(cur.code, f)
		}
	}
	return m
}

func (m *stackMachine) run() []string {
	m.call("Main.main", nil, 0, 0)
	return m.output
}

func (m *stackMachine) call(name string, args []int, this, that int) int {
	if v, ok := m.builtin(name, args); ok {
		return v
	}
	fn, ok := m.funcs[name]
	if !ok {
		m.t.Fatalf("call to undefined function %s", name)
	}
	class, _, _ := strings.Cut(name, ".")
	fr := &vmFrame{class: class, args: args, locals: make([]int, fn.locals), this: this, that: that}

	var stack []int
	push := func(v int) { stack = append(stack, int(int16(v))) }
	pop := func() int {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	boolean := func(b bool) int {
		if b {
			return -1
		}
		return 0
	}
	jump := func(label string) int {
		pc, ok := fn.labels[label]
		if !ok {
			m.t.Fatalf("%s: jump to undefined label %s", name, label)
		}
		return pc
	}

	for pc := 0; pc < len(fn.code); pc++ {
		if m.steps++; m.steps > maxSteps {
			m.t.Fatalf("step limit exceeded in %s", name)
		}
		ins := fn.code[pc]
		switch ins[0] {
		case "push":
			if ins[1] == "constant" {
				push(atoi(m.t, ins[2]))
			} else {
				push(*m.slot(fr, ins[1], atoi(m.t, ins[2])))
			}
		case "pop":
			*m.slot(fr, ins[1], atoi(m.t, ins[2])) = pop()
		case "add", "sub", "eq", "gt", "lt", "and", "or":
			b, a := pop(), pop()
			switch ins[0] {
			case "add":
				push(a + b)
			case "sub":
				push(a - b)
			case "eq":
				push(boolean(a == b))
			case "gt":
				push(boolean(a > b))
			case "lt":
				push(boolean(a < b))
			case "and":
				push(a & b)
			case "or":
				push(a | b)
			}
		case "neg":
			push(-pop())
		case "not":
			push(^pop())
		case "label":
		case "goto":
			pc = jump(ins[1])
		case "if-goto":
			if pop() != 0 {
				pc = jump(ins[1])
			}
		case "call":
			n := atoi(m.t, ins[2])
			callArgs := make([]int, n)
			copy(callArgs, stack[len(stack)-n:])
			stack = stack[:len(stack)-n]
			push(m.call(ins[1], callArgs, fr.this, fr.that))
		case "return":
			return pop()
		default:
			m.t.Fatalf("unknown instruction %v", ins)
		}
	}
	m.t.Fatalf("%s ended without return", name)
	return 0
}

func (m *stackMachine) slot(fr *vmFrame, seg string, i int) *int {
	switch seg {
	case "argument":
		return &fr.args[i]
	case "local":
		return &fr.locals[i]
	case "static":
		s := m.statics[fr.class]
		for len(s) <= i {
			s = append(s, 0)
		}
		m.statics[fr.class] = s
		return &s[i]
	case "this":
		return &m.heap[fr.this+i]
	case "that":
		return &m.heap[fr.that+i]
	case "pointer":
		if i == 0 {
			return &fr.this
		}
		return &fr.that
	case "temp":
		return &m.temp[i]
	}
	m.t.Fatalf("unknown segment %s", seg)
	return nil
}

func (m *stackMachine) builtin(name string, args []int) (int, bool) {
	switch name {
	case "Math.multiply":
		return args[0] * args[1], true
	case "Math.divide":
		return args[0] / args[1], true
	case "Math.abs":
		if args[0] < 0 {
			return -args[0], true
		}
		return args[0], true
	case "Memory.alloc", "Array.new":
		return m.alloc(args[0]), true
	case "String.new":
		// heap[s] holds the length, characters follow.
		return m.alloc(args[0] + 1), true
	case "String.appendChar":
		s := args[0]
		m.heap[s+1+m.heap[s]] = args[1]
		m.heap[s]++
		return s, true
	case "Output.printInt":
		m.output = append(m.output, strconv.Itoa(args[0]))
		return 0, true
	case "Output.printString":
		s := args[0]
		var sb strings.Builder
		for i := 0; i < m.heap[s]; i++ {
			sb.WriteRune(rune(m.heap[s+1+i]))
		}
		m.output = append(m.output, sb.String())
		return 0, true
	}
	return 0, false
}

func (m *stackMachine) alloc(n int) int {
	if n < 1 {
		n = 1
	}
	p := m.free
	m.free += n
	return p
}

func atoi(t *testing.T, s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("bad number %q", s)
	}
	return n
}
