// Package lspdriver is a hand-rolled JSON-RPC/stdio client for a single
// language server, carrying just enough of the LSP wire protocol to run
// workspace/documentSymbol queries and wait for a server's own
// "indexing complete" progress notification before declaring itself ready.
package lspdriver

import "encoding/json"

// message is the superset shape every stdio frame is parsed into: it may be
// a request (Method+ID), a notification (Method, no ID), or a response
// (ID, Result or Error) depending on which fields are present.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (m *message) isResponse() bool  { return m.ID != nil && m.Method == "" }
func (m *message) isRequest() bool   { return m.ID != nil && m.Method != "" }
func (m *message) isNotify() bool    { return m.ID == nil && m.Method != "" }

// outgoing request/notification shapes (distinct from message so we never
// emit the response-only fields).
type outRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type outNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type outResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

// SymbolKind is the LSP symbol-kind enumeration, in full: this client
// advertises support for every value in its capability set so no server
// silently downgrades its responses for an unrecognized client.
type SymbolKind int

const (
	SymbolKindFile SymbolKind = iota + 1
	SymbolKindModule
	SymbolKindNamespace
	SymbolKindPackage
	SymbolKindClass
	SymbolKindMethod
	SymbolKindProperty
	SymbolKindField
	SymbolKindConstructor
	SymbolKindEnum
	SymbolKindInterface
	SymbolKindFunction
	SymbolKindVariable
	SymbolKindConstant
	SymbolKindString
	SymbolKindNumber
	SymbolKindBoolean
	SymbolKindArray
	SymbolKindObject
	SymbolKindKey
	SymbolKindNull
	SymbolKindEnumMember
	SymbolKindStruct
	SymbolKindEvent
	SymbolKindOperator
	SymbolKindTypeParameter
)

// allSymbolKinds is the full 26-value capability set both workspace/symbol
// and textDocument/documentSymbol capabilities advertise.
var allSymbolKinds = []SymbolKind{
	SymbolKindFile, SymbolKindModule, SymbolKindNamespace, SymbolKindPackage,
	SymbolKindClass, SymbolKindMethod, SymbolKindProperty, SymbolKindField,
	SymbolKindConstructor, SymbolKindEnum, SymbolKindInterface, SymbolKindFunction,
	SymbolKindVariable, SymbolKindConstant, SymbolKindString, SymbolKindNumber,
	SymbolKindBoolean, SymbolKindArray, SymbolKindObject, SymbolKindKey,
	SymbolKindNull, SymbolKindEnumMember, SymbolKindStruct, SymbolKindEvent,
	SymbolKindOperator, SymbolKindTypeParameter,
}

type symbolKindCapability struct {
	ValueSet []SymbolKind `json:"valueSet"`
}

type workspaceSymbolClientCapabilities struct {
	DynamicRegistration bool                  `json:"dynamicRegistration"`
	SymbolKind          symbolKindCapability  `json:"symbolKind"`
}

type documentSymbolClientCapabilities struct {
	DynamicRegistration               bool                 `json:"dynamicRegistration"`
	HierarchicalDocumentSymbolSupport bool                 `json:"hierarchicalDocumentSymbolSupport"`
	SymbolKind                        symbolKindCapability `json:"symbolKind"`
}

type workspaceClientCapabilities struct {
	Symbol workspaceSymbolClientCapabilities `json:"symbol"`
}

type textDocumentClientCapabilities struct {
	DocumentSymbol documentSymbolClientCapabilities `json:"documentSymbol"`
}

type windowClientCapabilities struct {
	WorkDoneProgress bool `json:"workDoneProgress"`
}

type clientCapabilities struct {
	Workspace    workspaceClientCapabilities    `json:"workspace"`
	TextDocument textDocumentClientCapabilities `json:"textDocument"`
	Window       windowClientCapabilities       `json:"window"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type workspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type initializeParams struct {
	ProcessID             int                 `json:"processId"`
	ClientInfo            clientInfo          `json:"clientInfo"`
	Capabilities          clientCapabilities  `json:"capabilities"`
	InitializationOptions any                 `json:"initializationOptions,omitempty"`
	WorkspaceFolders       []workspaceFolder  `json:"workspaceFolders,omitempty"`
}

func newInitializeParams(processID int, clientName, clientVersion string, workspaceURI, workspaceName string, opts any) initializeParams {
	caps := clientCapabilities{
		Workspace: workspaceClientCapabilities{
			Symbol: workspaceSymbolClientCapabilities{
				SymbolKind: symbolKindCapability{ValueSet: allSymbolKinds},
			},
		},
		TextDocument: textDocumentClientCapabilities{
			DocumentSymbol: documentSymbolClientCapabilities{
				HierarchicalDocumentSymbolSupport: false,
				SymbolKind:                        symbolKindCapability{ValueSet: allSymbolKinds},
			},
		},
		Window: windowClientCapabilities{WorkDoneProgress: true},
	}
	return initializeParams{
		ProcessID:             processID,
		ClientInfo:            clientInfo{Name: clientName, Version: clientVersion},
		Capabilities:          caps,
		InitializationOptions: opts,
		WorkspaceFolders: []workspaceFolder{
			{URI: workspaceURI, Name: workspaceName},
		},
	}
}

// TextDocumentIdentifier identifies a document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

type workspaceSymbolParams struct {
	Query string `json:"query"`
}

type documentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// Position is a zero-based line/character position in a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a start/end span in a document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// DocumentSymbol is one entry of a textDocument/documentSymbol response.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// Location is a URI plus a range within it.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// SymbolInformation is the flat-list alternative to DocumentSymbol, used by
// some servers for both workspace/symbol and textDocument/documentSymbol.
type SymbolInformation struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	Location      Location   `json:"location"`
	ContainerName string     `json:"containerName,omitempty"`
}

type hoverParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// Hover is a textDocument/hover result.
type Hover struct {
	Contents json.RawMessage `json:"contents"`
	Range    *Range          `json:"range,omitempty"`
}

type referenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

type referenceParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
	Context      referenceContext       `json:"context"`
}

type progressParams struct {
	Token NumberOrString  `json:"token"`
	Value json.RawMessage `json:"value"`
}

// NumberOrString mirrors LSP's NumberOrString union, since a progress
// token may be either on the wire.
type NumberOrString struct {
	Str string
	Num int
	IsStr bool
}

func (n *NumberOrString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n.Str, n.IsStr = s, true
		return nil
	}
	return json.Unmarshal(data, &n.Num)
}

type workDoneProgressValue struct {
	Kind string `json:"kind"` // "begin" | "report" | "end"
}
