package sql

import (
	"strings"

	"github.com/evoludigit/pggit/core"
)

// Normalize converts definition text to its canonical form, the identity
// under which content is hashed and deduplicated:
//
//   - tokens joined by single spaces (no space before , ; ) or after ( )
//   - bare keywords and identifiers lowercased
//   - quoted identifiers and string literals byte-preserved
//   - comments dropped
//   - trailing semicolons dropped
//
// Whitespace, line endings and keyword casing therefore never affect
// content identity. The rule set is a persistence contract: changing it
// re-keys every stored blob.
func Normalize(definition string) string {
	tokens := NewLexer(definition).Tokens()

	// Trailing semicolons are statement separators, not content.
	for len(tokens) > 0 {
		last := tokens[len(tokens)-1]
		if last.Type == Symbol && last.Value == ";" {
			tokens = tokens[:len(tokens)-1]
			continue
		}
		break
	}

	var b strings.Builder
	for i, tok := range tokens {
		value := tok.Value
		if tok.Type == Word {
			value = strings.ToLower(value)
		}

		if i > 0 && spaceBetween(tokens[i-1], tok) {
			b.WriteByte(' ')
		}
		b.WriteString(value)
	}
	return b.String()
}

func spaceBetween(prev, next Token) bool {
	if next.Type == Symbol && (next.Value == "," || next.Value == ";" || next.Value == ")") {
		return false
	}
	if prev.Type == Symbol && prev.Value == "(" {
		return false
	}
	return true
}

// DetectKind guesses the object kind from the leading tokens of a
// definition ("CREATE [OR REPLACE] [UNIQUE] <kind> ..."). Returns false
// when the text opens with anything else.
func DetectKind(definition string) (core.ObjectKind, bool) {
	lexer := NewLexer(definition)

	tok := lexer.NextToken()
	if tok.Type != Word || !strings.EqualFold(tok.Value, "create") {
		return "", false
	}

	for range 4 {
		tok = lexer.NextToken()
		if tok.Type != Word {
			return "", false
		}
		switch strings.ToLower(tok.Value) {
		case "or", "replace", "unique", "materialized", "temporary", "temp":
			continue
		case "table":
			return core.KindTable, true
		case "view":
			return core.KindView, true
		case "index":
			return core.KindIndex, true
		case "function", "procedure":
			return core.KindFunction, true
		case "sequence":
			return core.KindSequence, true
		case "trigger":
			return core.KindTrigger, true
		case "type", "domain":
			return core.KindType, true
		default:
			return "", false
		}
	}
	return "", false
}
