package irtext

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// irLexer tokenizes the textual IR. Lower-case rule names are elided.
var irLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{"comment", `;[^\n]*`, nil},
		{"whitespace", `[ \t\r\n]+`, nil},

		{"Local", `%(?:[-a-zA-Z$._0-9]+|"(?:[^"\\]|\\.)*")`, nil},
		{"Global", `@(?:[-a-zA-Z$._0-9]+|"(?:[^"\\]|\\.)*")`, nil},
		{"Bytes", `c"[^"]*"`, nil},
		{"String", `"(?:[^"\\]|\\.)*"`, nil},
		{"Meta", `![a-z]+`, nil},
		{"Int", `-?[0-9]+`, nil},
		{"Ellipsis", `\.\.\.`, nil},
		{"Ident", `[a-zA-Z_$.][-a-zA-Z$._0-9]*`, nil},
		{"Punct", `[{}()\[\],=:*<>]`, nil},
	},
})

var (
	tokLocal  = irLexer.Symbols()["Local"]
	tokGlobal = irLexer.Symbols()["Global"]
	tokBytes  = irLexer.Symbols()["Bytes"]
	tokString = irLexer.Symbols()["String"]
	tokMeta   = irLexer.Symbols()["Meta"]
	tokInt    = irLexer.Symbols()["Int"]
	tokEllip  = irLexer.Symbols()["Ellipsis"]
	tokIdent  = irLexer.Symbols()["Ident"]
	tokPunct  = irLexer.Symbols()["Punct"]
)
