// Package bitcode is the binary form of an IR module. A file is the magic
// "CHBC" followed by a msgpack payload. Values and types are stored by
// index so the payload is a plain tree.
package bitcode

// Magic prefixes every bitcode file.
const Magic = "CHBC"

// SchemaVersion is bumped whenever the payload layout changes.
const SchemaVersion uint16 = 1

const noType = -1

// payload is the serialized module.
type payload struct {
	Schema  uint16
	Name    string
	Types   []typeRec
	Structs []structRec
	Globals []globalRec
	Aliases []aliasRec
	IFuncs  []aliasRec
	Funcs   []funcRec
}

type typeRec struct {
	Kind     uint8
	Bits     uint16 `msgpack:",omitempty"`
	Name     string `msgpack:",omitempty"` // named struct reference
	Elem     int    `msgpack:",omitempty"`
	Len      int64  `msgpack:",omitempty"`
	Ret      int    `msgpack:",omitempty"`
	Params   []int  `msgpack:",omitempty"`
	Fields   []int  `msgpack:",omitempty"` // literal struct body
	Variadic bool   `msgpack:",omitempty"`
}

type structRec struct {
	Name   string
	Opaque bool
	Fields []int
}

type globalRec struct {
	Name     string
	Type     int
	Init     *valueRec
	Constant bool
	Linkage  uint8
	Align    int
}

type aliasRec struct {
	Name    string
	Target  string
	Linkage uint8
}

type funcRec struct {
	Name        string
	Sig         int
	Linkage     uint8
	Attrs       uint16
	Personality string
	ParamNames  []string
	Blocks      []blockRec
}

type blockRec struct {
	Name   string
	Instrs []instrRec
}

// value kinds
const (
	vkConst uint8 = iota
	vkGlobal
	vkParam
	vkInstr
	vkBlock
)

type valueRec struct {
	K     uint8
	Type  int
	CKind uint8      `msgpack:",omitempty"`
	Int   int64      `msgpack:",omitempty"`
	Bytes []byte     `msgpack:",omitempty"`
	Elems []valueRec `msgpack:",omitempty"`
	Sym   string     `msgpack:",omitempty"`
	Idx   int        `msgpack:",omitempty"` // param index, instruction ordinal or block index
}

type instrRec struct {
	Op       uint8
	Name     string `msgpack:",omitempty"`
	Type     int
	Operands []valueRec `msgpack:",omitempty"`
	Succs    []int      `msgpack:",omitempty"`
	Incoming []int      `msgpack:",omitempty"`
	Callee   *valueRec  `msgpack:",omitempty"`
	FnType   int
	Pred     uint8             `msgpack:",omitempty"`
	Cast     uint8             `msgpack:",omitempty"`
	ElemType int               `msgpack:",omitempty"`
	Align    int               `msgpack:",omitempty"`
	Cleanup  bool              `msgpack:",omitempty"`
	Hints    map[string]string `msgpack:",omitempty"`
	Line     uint32            `msgpack:",omitempty"`
	Col      uint32            `msgpack:",omitempty"`
}
