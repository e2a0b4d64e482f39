// Package server implements a language server for Jack sources.
package server

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/jackc/compiler"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "jack-lsp"

var log = commonlog.GetLogger("jackc.server")

// document is an open buffer together with the result of compiling it.
type document struct {
	text string
	unit *compiler.Unit // outline, partial when err != nil
	err  error
}

// analyze compiles text, discarding the generated code.
func analyze(text string) *document {
	p := compiler.NewParser(strings.NewReader(text), io.Discard)
	_, err := p.Parse()
	return &document{text: text, unit: p.Unit(), err: err}
}

// LspServer publishes compile diagnostics and outline information for open
// Jack documents.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]*document // URI → latest analysis

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]*document),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion:     s.textDocumentCompletion,
		TextDocumentHover:          s.textDocumentHover,
		TextDocumentDefinition:     s.textDocumentDefinition,
		TextDocumentDocumentSymbol: s.textDocumentDocumentSymbol,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("Jack LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.DocumentSymbolProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	doc := s.update(uri, params.TextDocument.Text)
	s.publishDiagnostics(ctx, uri, doc)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			doc := s.update(uri, whole.Text)
			s.publishDiagnostics(ctx, uri, doc)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update re-analyzes a document and stores the result.
func (s *LspServer) update(uri protocol.DocumentUri, text string) *document {
	doc := analyze(text)
	if doc.err != nil {
		log.Debugf("%s: %v", uri, doc.err)
	}

	s.mu.Lock()
	s.docs[string(uri)] = doc
	s.mu.Unlock()
	return doc
}

func (s *LspServer) lookup(uri protocol.DocumentUri) (*document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[string(uri)]
	return doc, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc, ok := s.lookup(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(doc, prefix, int(params.Position.Line)+1), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc, ok := s.lookup(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(doc, word, int(params.Position.Line)+1), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	doc, ok := s.lookup(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	if loc := definition(doc, uri, word, int(params.Position.Line)+1); loc != nil {
		return loc, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentDocumentSymbol(ctx *glsp.Context, params *protocol.DocumentSymbolParams) (any, error) {
	doc, ok := s.lookup(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return documentSymbols(doc), nil
}

// --- Outline-backed logic ---

// complete offers keywords, visible variables, subroutines and the class
// name starting with prefix. line is 1-based.
func complete(doc *document, prefix string, line int) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	seen := map[string]bool{}
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		if seen[label] || !strings.HasPrefix(label, prefix) {
			return
		}
		seen[label] = true
		labelCopy, detailCopy := label, detail
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detailCopy,
			InsertText: &labelCopy,
		})
	}

	if u := doc.unit; u != nil {
		if sub := u.SubroutineAt(line); sub != nil {
			for i := len(sub.Vars) - 1; i >= 0; i-- {
				d := sub.Vars[i]
				add(d.Name, d.Kind.String()+" "+d.Type, protocol.CompletionItemKindVariable)
			}
		}
		for i := len(u.ClassVars) - 1; i >= 0; i-- {
			d := u.ClassVars[i]
			add(d.Name, d.Kind.String()+" "+d.Type, protocol.CompletionItemKindField)
		}
		for _, sub := range u.Subroutines {
			if sub.Name == "" {
				continue
			}
			add(sub.Name, sub.Kind.String()+" "+sub.ReturnType, subroutineCompletionKind(sub.Kind))
		}
		if u.ClassName != "" {
			add(u.ClassName, "class", protocol.CompletionItemKindClass)
		}
	}

	for _, kw := range compiler.Keywords() {
		add(kw, "keyword", protocol.CompletionItemKindKeyword)
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func subroutineCompletionKind(k compiler.SubroutineKind) protocol.CompletionItemKind {
	switch k {
	case compiler.SubConstructor:
		return protocol.CompletionItemKindConstructor
	case compiler.SubMethod:
		return protocol.CompletionItemKindMethod
	}
	return protocol.CompletionItemKindFunction
}

// hover describes word as seen from the 1-based line: a variable with its VM
// operand, a subroutine with its signature, or the class itself.
func hover(doc *document, word string, line int) *protocol.Hover {
	u := doc.unit
	if u == nil {
		return nil
	}

	if d, ok := u.Lookup(word, line); ok {
		return markdown(fmt.Sprintf("**%s** `%s`\n\n%s variable, `%s %d`",
			d.Name, d.Type, d.Kind, d.Kind.Segment(), d.Index))
	}

	for _, sub := range u.Subroutines {
		if sub.Name != word {
			continue
		}
		var params []string
		for _, d := range sub.Vars {
			if d.Kind == compiler.KindArgument {
				params = append(params, d.Type+" "+d.Name)
			}
		}
		return markdown(fmt.Sprintf("%s **%s**(%s) returns `%s`\n\n`function %s %d`",
			sub.Kind, sub.QualifiedName(u.ClassName), strings.Join(params, ", "),
			sub.ReturnType, sub.QualifiedName(u.ClassName), sub.NumLocals))
	}

	if word == u.ClassName {
		return markdown(fmt.Sprintf("class **%s**\n\n%d fields, %d subroutines",
			u.ClassName, u.NumFields(), len(u.Subroutines)))
	}
	return nil
}

func markdown(text string) *protocol.Hover {
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: text,
		},
	}
}

// definition locates the declaration of word as seen from the 1-based line.
func definition(doc *document, uri protocol.DocumentUri, word string, line int) []protocol.Location {
	u := doc.unit
	if u == nil {
		return nil
	}

	var pos compiler.Position
	if d, ok := u.Lookup(word, line); ok {
		pos = d.Pos
	} else if word == u.ClassName {
		pos = u.Pos
	} else {
		for _, sub := range u.Subroutines {
			if sub.Name == word {
				pos = sub.Pos
				break
			}
		}
	}
	if pos.Line == 0 {
		return nil
	}
	return []protocol.Location{{URI: uri, Range: wordRange(pos, word)}}
}

// documentSymbols returns the class outline: the class, its variables and its
// subroutines with their parameters and locals.
func documentSymbols(doc *document) []protocol.DocumentSymbol {
	u := doc.unit
	if u == nil || u.ClassName == "" {
		return nil
	}

	class := protocol.DocumentSymbol{
		Name:           u.ClassName,
		Kind:           protocol.SymbolKindClass,
		Range:          spanRange(u.Pos, u.End),
		SelectionRange: wordRange(u.Pos, "class"),
	}

	for _, d := range u.ClassVars {
		kind := protocol.SymbolKindField
		if d.Kind == compiler.KindStatic {
			kind = protocol.SymbolKindVariable
		}
		class.Children = append(class.Children, variableSymbol(d, kind))
	}

	for _, sub := range u.Subroutines {
		if sub.Name == "" {
			continue
		}
		detail := sub.Kind.String() + " " + sub.ReturnType
		sym := protocol.DocumentSymbol{
			Name:           sub.Name,
			Detail:         &detail,
			Kind:           subroutineSymbolKind(sub.Kind),
			Range:          spanRange(sub.Pos, sub.End),
			SelectionRange: wordRange(sub.Pos, sub.Kind.String()),
		}
		for _, d := range sub.Vars {
			sym.Children = append(sym.Children, variableSymbol(d, protocol.SymbolKindVariable))
		}
		class.Children = append(class.Children, sym)
	}

	return []protocol.DocumentSymbol{class}
}

func variableSymbol(d compiler.Declaration, kind protocol.SymbolKind) protocol.DocumentSymbol {
	detail := d.Kind.String() + " " + d.Type
	r := wordRange(d.Pos, d.Name)
	return protocol.DocumentSymbol{
		Name:           d.Name,
		Detail:         &detail,
		Kind:           kind,
		Range:          r,
		SelectionRange: r,
	}
}

func subroutineSymbolKind(k compiler.SubroutineKind) protocol.SymbolKind {
	switch k {
	case compiler.SubConstructor:
		return protocol.SymbolKindConstructor
	case compiler.SubMethod:
		return protocol.SymbolKindMethod
	}
	return protocol.SymbolKindFunction
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, doc *document) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics(doc),
	})
}

// diagnostics converts a document's compile error, if any, into a diagnostic
// anchored at the error position. A clean document yields an empty list.
func diagnostics(doc *document) []protocol.Diagnostic {
	diags := []protocol.Diagnostic{}
	if doc.err == nil {
		return diags
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	return append(diags, protocol.Diagnostic{
		Range:    errorRange(doc.err),
		Severity: &severity,
		Source:   &source,
		Message:  doc.err.Error(),
	})
}

// errorRange spans the offending token of a compiler error.
func errorRange(err error) protocol.Range {
	pos, ok := compiler.ErrorPosition(err)
	if !ok {
		return protocol.Range{}
	}

	text := " "
	var synErr *compiler.SyntaxError
	var symErr *compiler.UnresolvedSymbolError
	switch {
	case errors.As(err, &symErr):
		text = symErr.Name
	case errors.As(err, &synErr) && synErr.Got.Text != "":
		text = synErr.Got.Text
	}
	return wordRange(pos, text)
}

// --- Position helpers ---

// toProtocol converts a 1-based compiler position to a 0-based LSP position.
func toProtocol(p compiler.Position) protocol.Position {
	line, col := p.Line-1, p.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
}

// wordRange spans word starting at pos.
func wordRange(pos compiler.Position, word string) protocol.Range {
	start := toProtocol(pos)
	end := start
	end.Character += protocol.UInteger(utf8.RuneCountInString(word))
	return protocol.Range{Start: start, End: end}
}

// spanRange spans from start up to and including the closing brace at end.
// An unfinished span (zero end) collapses to its start.
func spanRange(start, end compiler.Position) protocol.Range {
	if end.Line == 0 {
		return wordRange(start, "")
	}
	return protocol.Range{Start: toProtocol(start), End: wordRange(end, "}").End}
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Find start
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	// Find end
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
