package lang

import "fmt"

// tokenType identifies the lexical class of a token in a flagfile.
type tokenType int

const (
	tokenError tokenType = iota
	tokenEOF

	tokenIdent   // bareword, flag name, segment name, variable name
	tokenString  // 'quoted' or "quoted"
	tokenNumber  // integer literal
	tokenFloat   // decimal literal
	tokenDate    // yyyy-mm-dd
	tokenSemver  // N.N.N
	tokenRegex   // /pattern/
	tokenComment // // ... or /* ... */

	tokenTrue
	tokenFalse
	tokenAnd
	tokenOr
	tokenNotKw // bare "not" keyword, used by "not in"
	tokenInKw
	tokenJSON // the "json" function keyword, handled specially (braces follow)

	tokenArrow // ->
	tokenAt    // @
	tokenComma
	tokenDot
	tokenLParen
	tokenRParen
	tokenLBrace
	tokenRBrace
	tokenBang // !

	// comparisons
	tokenEq
	tokenNotEq
	tokenLt
	tokenLte
	tokenGt
	tokenGte

	// matches
	tokenContains      // ~
	tokenNotContains    // !~
	tokenStartsWith     // ^~
	tokenNotStartsWith  // !^~
	tokenEndsWith       // ~$
	tokenNotEndsWith    // !~$
)

var tokenNames = map[tokenType]string{
	tokenError:         "error",
	tokenEOF:           "EOF",
	tokenIdent:         "identifier",
	tokenString:        "string",
	tokenNumber:        "number",
	tokenFloat:         "float",
	tokenDate:          "date",
	tokenSemver:        "semver",
	tokenRegex:         "regex",
	tokenComment:       "comment",
	tokenTrue:          "TRUE",
	tokenFalse:         "FALSE",
	tokenAnd:           "and",
	tokenOr:            "or",
	tokenNotKw:         "not",
	tokenInKw:          "in",
	tokenJSON:          "json",
	tokenArrow:         "->",
	tokenAt:            "@",
	tokenComma:         ",",
	tokenDot:           ".",
	tokenLParen:        "(",
	tokenRParen:        ")",
	tokenLBrace:        "{",
	tokenRBrace:        "}",
	tokenBang:          "!",
	tokenEq:            "==",
	tokenNotEq:         "!=",
	tokenLt:            "<",
	tokenLte:           "<=",
	tokenGt:            ">",
	tokenGte:           ">=",
	tokenContains:      "~",
	tokenNotContains:   "!~",
	tokenStartsWith:    "^~",
	tokenNotStartsWith: "!^~",
	tokenEndsWith:      "~$",
	tokenNotEndsWith:   "!~$",
}

func (t tokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("tokenType(%d)", int(t))
}

var keywords = map[string]tokenType{
	"true":  tokenTrue,
	"false": tokenFalse,
	"and":   tokenAnd,
	"or":    tokenOr,
	"not":   tokenNotKw,
	"in":    tokenInKw,
	"json":  tokenJSON,
}

// token is a single lexed token together with its byte offset in the source.
type token struct {
	typ tokenType
	pos int
	val string
}

func (t token) String() string {
	return fmt.Sprintf("{%v pos:%d val:%q}", t.typ, t.pos, t.val)
}
