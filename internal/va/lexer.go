package va

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/vamodel/valc/internal/diag"
)

// TokenType represents the kind of token.
type TokenType int

const (
	// Special
	EOF TokenType = iota
	ILLEGAL

	// Punctuation
	LPAREN   // "("
	RPAREN   // ")"
	LBRACKET // "["
	RBRACKET // "]"
	LBRACE   // "{"
	RBRACE   // "}"
	LATTR    // "(*"
	RATTR    // "*)"
	SEMI     // ";"
	COLON    // ":"
	COMMA    // ","
	AT       // "@"

	// Operators
	PLUS
	MINUS
	STAR
	SLASH
	PERCENT
	POW        // "**"
	CONTRIB    // "<+"
	ASSIGN     // "="
	EQ         // "=="
	NEQ        // "!="
	LT         // "<"
	LTE        // "<="
	GT         // ">"
	GTE        // ">="
	ANDAND     // "&&"
	OROR       // "||"
	BANG       // "!"
	QUESTION   // "?"

	// Literals & identifiers
	IDENT
	SYSIDENT // $temperature, $limit, ...
	NUMBER   // real or integer literal
	STRING

	// Keywords
	KWMODULE
	KWENDMODULE
	KWINOUT
	KWINPUT
	KWOUTPUT
	KWBRANCH
	KWPARAMETER
	KWREAL
	KWINTEGER
	KWSTRING
	KWANALOG
	KWBEGIN
	KWEND
	KWIF
	KWELSE
	KWFOR
	KWWHILE
	KWREPEAT
	KWFROM
	KWEXCLUDE
)

// Token is a lexical token with its source position.
type Token struct {
	Type   TokenType
	Lexeme string
	// Num holds the parsed value for NUMBER tokens. Integer literals
	// parse into an exact float64; the type checker decides realness.
	Num  float64
	IsInt bool
	Span diag.Span
}

var keywords = map[string]TokenType{
	"module":    KWMODULE,
	"endmodule": KWENDMODULE,
	"inout":     KWINOUT,
	"input":     KWINPUT,
	"output":    KWOUTPUT,
	"branch":    KWBRANCH,
	"parameter": KWPARAMETER,
	"real":      KWREAL,
	"integer":   KWINTEGER,
	"string":    KWSTRING,
	"analog":    KWANALOG,
	"begin":     KWBEGIN,
	"end":       KWEND,
	"if":        KWIF,
	"else":      KWELSE,
	"for":       KWFOR,
	"while":     KWWHILE,
	"repeat":    KWREPEAT,
	"from":      KWFROM,
	"exclude":   KWEXCLUDE,
}

// scaleFactors maps Verilog-A scale suffixes to multipliers.
// Note: "m" is milli and "M" is mega; this is the one case-sensitive
// suffix pair in the language.
var scaleFactors = map[byte]float64{
	'T': 1e12,
	'G': 1e9,
	'M': 1e6,
	'K': 1e3,
	'k': 1e3,
	'm': 1e-3,
	'u': 1e-6,
	'n': 1e-9,
	'p': 1e-12,
	'f': 1e-15,
	'a': 1e-18,
}

// LexError reports a malformed token.
type LexError struct {
	Span    diag.Span
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s: %s", e.Span, e.Message)
}

// Lexer scans a source buffer into tokens.
type Lexer struct {
	file string
	src  []rune
	pos  int
	line int
	col  int
}

// NewLexer creates a lexer over src. file is used in spans only.
func NewLexer(file, src string) *Lexer {
	return &Lexer{file: file, src: []rune(src), line: 1, col: 1}
}

func (l *Lexer) span() diag.Span {
	return diag.Span{File: l.file, Line: l.line, Col: l.col}
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peekAt(off int) rune {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *Lexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

// Next returns the next token, skipping whitespace and comments.
func (l *Lexer) Next() (Token, error) {
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			return Token{Type: EOF, Span: l.span()}, nil
		}
		// Comments
		if l.peek() == '/' && l.peekAt(1) == '/' {
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
			continue
		}
		if l.peek() == '/' && l.peekAt(1) == '*' {
			sp := l.span()
			l.advance()
			l.advance()
			closed := false
			for l.pos < len(l.src) {
				if l.peek() == '*' && l.peekAt(1) == '/' {
					l.advance()
					l.advance()
					closed = true
					break
				}
				l.advance()
			}
			if !closed {
				return Token{}, &LexError{Span: sp, Message: "unterminated block comment"}
			}
			continue
		}
		break
	}

	sp := l.span()
	r := l.peek()

	switch {
	case unicode.IsLetter(r) || r == '_':
		return l.lexIdent(sp), nil
	case r == '$':
		return l.lexSysIdent(sp)
	case unicode.IsDigit(r) || (r == '.' && unicode.IsDigit(l.peekAt(1))):
		return l.lexNumber(sp)
	case r == '"':
		return l.lexString(sp)
	}

	// Punctuation and operators, longest match first.
	two := func(t TokenType, lex string) (Token, error) {
		l.advance()
		l.advance()
		return Token{Type: t, Lexeme: lex, Span: sp}, nil
	}
	one := func(t TokenType, lex string) (Token, error) {
		l.advance()
		return Token{Type: t, Lexeme: lex, Span: sp}, nil
	}

	switch r {
	case '(':
		if l.peekAt(1) == '*' {
			return two(LATTR, "(*")
		}
		return one(LPAREN, "(")
	case ')':
		return one(RPAREN, ")")
	case '[':
		return one(LBRACKET, "[")
	case ']':
		return one(RBRACKET, "]")
	case '{':
		return one(LBRACE, "{")
	case '}':
		return one(RBRACE, "}")
	case ';':
		return one(SEMI, ";")
	case ':':
		return one(COLON, ":")
	case ',':
		return one(COMMA, ",")
	case '@':
		return one(AT, "@")
	case '+':
		return one(PLUS, "+")
	case '-':
		return one(MINUS, "-")
	case '*':
		if l.peekAt(1) == '*' {
			return two(POW, "**")
		}
		if l.peekAt(1) == ')' {
			return two(RATTR, "*)")
		}
		return one(STAR, "*")
	case '/':
		return one(SLASH, "/")
	case '%':
		return one(PERCENT, "%")
	case '<':
		switch l.peekAt(1) {
		case '+':
			return two(CONTRIB, "<+")
		case '=':
			return two(LTE, "<=")
		}
		return one(LT, "<")
	case '>':
		if l.peekAt(1) == '=' {
			return two(GTE, ">=")
		}
		return one(GT, ">")
	case '=':
		if l.peekAt(1) == '=' {
			return two(EQ, "==")
		}
		return one(ASSIGN, "=")
	case '!':
		if l.peekAt(1) == '=' {
			return two(NEQ, "!=")
		}
		return one(BANG, "!")
	case '&':
		if l.peekAt(1) == '&' {
			return two(ANDAND, "&&")
		}
	case '|':
		if l.peekAt(1) == '|' {
			return two(OROR, "||")
		}
	case '?':
		return one(QUESTION, "?")
	}

	l.advance()
	return Token{}, &LexError{Span: sp, Message: fmt.Sprintf("unexpected character %q", r)}
}

func (l *Lexer) skipSpace() {
	for l.pos < len(l.src) && unicode.IsSpace(l.peek()) {
		l.advance()
	}
}

func (l *Lexer) lexIdent(sp diag.Span) Token {
	start := l.pos
	for l.pos < len(l.src) {
		r := l.peek()
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			l.advance()
			continue
		}
		break
	}
	lex := string(l.src[start:l.pos])
	if kw, ok := keywords[lex]; ok {
		return Token{Type: kw, Lexeme: lex, Span: sp}
	}
	return Token{Type: IDENT, Lexeme: lex, Span: sp}
}

func (l *Lexer) lexSysIdent(sp diag.Span) (Token, error) {
	start := l.pos
	l.advance() // consume '$'
	for l.pos < len(l.src) {
		r := l.peek()
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			l.advance()
			continue
		}
		break
	}
	lex := string(l.src[start:l.pos])
	if len(lex) == 1 {
		return Token{}, &LexError{Span: sp, Message: "bare '$' is not a system identifier"}
	}
	return Token{Type: SYSIDENT, Lexeme: lex, Span: sp}, nil
}

func (l *Lexer) lexNumber(sp diag.Span) (Token, error) {
	start := l.pos
	isInt := true
	for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
		l.advance()
	}
	if l.peek() == '.' && unicode.IsDigit(l.peekAt(1)) {
		isInt = false
		l.advance()
		for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
			l.advance()
		}
	}
	if r := l.peek(); r == 'e' || r == 'E' {
		next := l.peekAt(1)
		if unicode.IsDigit(next) || ((next == '+' || next == '-') && unicode.IsDigit(l.peekAt(2))) {
			isInt = false
			l.advance()
			if l.peek() == '+' || l.peek() == '-' {
				l.advance()
			}
			for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
				l.advance()
			}
		}
	}
	lex := string(l.src[start:l.pos])
	val, err := strconv.ParseFloat(lex, 64)
	if err != nil {
		return Token{}, &LexError{Span: sp, Message: fmt.Sprintf("malformed number %q", lex)}
	}
	// Scale-factor suffix (1u, 2.5k, ...). Only when directly attached
	// and not the start of an identifier like "1urad". Verilog-A allows
	// a trailing unit-ish identifier char run after the suffix, which we
	// reject to keep literals unambiguous.
	if r := l.peek(); r < 128 && r != 0 {
		if f, ok := scaleFactors[byte(r)]; ok && !isIdentRune(l.peekAt(1)) {
			l.advance()
			val *= f
			isInt = false
			lex += string(r)
		}
	}
	return Token{Type: NUMBER, Lexeme: lex, Num: val, IsInt: isInt, Span: sp}, nil
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func (l *Lexer) lexString(sp diag.Span) (Token, error) {
	l.advance() // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		r := l.advance()
		switch r {
		case '"':
			return Token{Type: STRING, Lexeme: sb.String(), Span: sp}, nil
		case '\\':
			if l.pos >= len(l.src) {
				return Token{}, &LexError{Span: sp, Message: "unterminated string"}
			}
			esc := l.advance()
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"', '\\':
				sb.WriteRune(esc)
			default:
				return Token{}, &LexError{Span: sp, Message: fmt.Sprintf("unknown escape \\%c", esc)}
			}
		case '\n':
			return Token{}, &LexError{Span: sp, Message: "newline in string literal"}
		default:
			sb.WriteRune(r)
		}
	}
	return Token{}, &LexError{Span: sp, Message: "unterminated string"}
}
