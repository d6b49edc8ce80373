package sql

// Token is one lexical unit of a DDL definition.
type Token struct {
	Type  TokenType
	Value string
}

type TokenType int

const (
	// Word is a bare keyword or identifier; case-insensitive.
	Word TokenType = iota
	// QuotedIdent is a double-quoted identifier; case-preserved.
	QuotedIdent
	// String is a single-quoted literal; byte-preserved.
	String
	// Number is an integer or decimal literal.
	Number
	// Symbol is punctuation or an operator: ( ) , ; = etc.
	Symbol
	EOF
)

// Lexer walks DDL text byte by byte. Comments are skipped; quoting and
// escapes follow standard SQL ('' inside strings, "" inside identifiers).
type Lexer struct {
	input        string
	position     int
	readPosition int
	ch           byte
}

func NewLexer(input string) *Lexer {
	lexer := &Lexer{input: input}
	lexer.readChar()
	return lexer
}

func (lexer *Lexer) readChar() {
	if lexer.readPosition >= len(lexer.input) {
		lexer.ch = 0
	} else {
		lexer.ch = lexer.input[lexer.readPosition]
	}
	lexer.position = lexer.readPosition
	lexer.readPosition++
}

func (lexer *Lexer) peekChar() byte {
	if lexer.readPosition >= len(lexer.input) {
		return 0
	}
	return lexer.input[lexer.readPosition]
}

// NextToken returns the next token, skipping whitespace and comments.
func (lexer *Lexer) NextToken() Token {
	lexer.skipSpaceAndComments()

	switch {
	case lexer.ch == 0:
		return Token{Type: EOF}

	case lexer.ch == '\'':
		return Token{Type: String, Value: lexer.readString()}

	case lexer.ch == '"':
		return Token{Type: QuotedIdent, Value: lexer.readQuotedIdent()}

	case isDigit(lexer.ch):
		return Token{Type: Number, Value: lexer.readNumber()}

	case isWordChar(lexer.ch):
		return Token{Type: Word, Value: lexer.readWord()}

	default:
		// Multi-byte operators stay one token so "<>" and "!=" compare
		// stably after normalization.
		if isOperator(lexer.ch) {
			return Token{Type: Symbol, Value: lexer.readOperator()}
		}
		tok := Token{Type: Symbol, Value: string(lexer.ch)}
		lexer.readChar()
		return tok
	}
}

// Tokens drains the lexer.
func (lexer *Lexer) Tokens() []Token {
	var tokens []Token
	for {
		tok := lexer.NextToken()
		if tok.Type == EOF {
			return tokens
		}
		tokens = append(tokens, tok)
	}
}

func (lexer *Lexer) skipSpaceAndComments() {
	for {
		for lexer.ch == ' ' || lexer.ch == '\t' || lexer.ch == '\n' || lexer.ch == '\r' {
			lexer.readChar()
		}

		if lexer.ch == '-' && lexer.peekChar() == '-' {
			for lexer.ch != '\n' && lexer.ch != 0 {
				lexer.readChar()
			}
			continue
		}

		if lexer.ch == '/' && lexer.peekChar() == '*' {
			lexer.readChar()
			lexer.readChar()
			for lexer.ch != 0 {
				if lexer.ch == '*' && lexer.peekChar() == '/' {
					lexer.readChar()
					lexer.readChar()
					break
				}
				lexer.readChar()
			}
			continue
		}

		return
	}
}

// readString reads a single-quoted literal, keeping the quotes and any ''
// escapes so the literal round-trips byte for byte.
func (lexer *Lexer) readString() string {
	position := lexer.position
	lexer.readChar() // opening quote
	for lexer.ch != 0 {
		if lexer.ch == '\'' {
			if lexer.peekChar() == '\'' {
				lexer.readChar()
				lexer.readChar()
				continue
			}
			lexer.readChar() // closing quote
			break
		}
		lexer.readChar()
	}
	return lexer.input[position:lexer.position]
}

// readQuotedIdent reads a double-quoted identifier, quotes included.
func (lexer *Lexer) readQuotedIdent() string {
	position := lexer.position
	lexer.readChar()
	for lexer.ch != 0 {
		if lexer.ch == '"' {
			if lexer.peekChar() == '"' {
				lexer.readChar()
				lexer.readChar()
				continue
			}
			lexer.readChar()
			break
		}
		lexer.readChar()
	}
	return lexer.input[position:lexer.position]
}

func (lexer *Lexer) readNumber() string {
	position := lexer.position
	for isDigit(lexer.ch) {
		lexer.readChar()
	}
	if lexer.ch == '.' && isDigit(lexer.peekChar()) {
		lexer.readChar()
		for isDigit(lexer.ch) {
			lexer.readChar()
		}
	}
	return lexer.input[position:lexer.position]
}

// readWord reads a bare identifier or keyword. Dots stay inside the word so
// qualified names like public.users remain one token.
func (lexer *Lexer) readWord() string {
	position := lexer.position
	for isWordChar(lexer.ch) || isDigit(lexer.ch) || lexer.ch == '.' {
		lexer.readChar()
	}
	return lexer.input[position:lexer.position]
}

func (lexer *Lexer) readOperator() string {
	position := lexer.position
	for isOperator(lexer.ch) {
		lexer.readChar()
	}
	return lexer.input[position:lexer.position]
}

func isWordChar(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_' || ch == '$'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isOperator(ch byte) bool {
	return ch == '=' || ch == '!' || ch == '<' || ch == '>' || ch == ':'
}
