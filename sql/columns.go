package sql

import (
	"fmt"
	"strings"
)

// ColumnDef is one column of a CREATE TABLE definition, in normalized form.
type ColumnDef struct {
	Name        string
	Type        string
	Constraints string // trailing column constraints, normalized, may be empty
}

// TableDef is the structural model of a CREATE TABLE definition: the parts
// the merge engine can reason about. Anything the parser cannot model makes
// ParseCreateTable fail, and callers fall back to opaque-content behavior.
type TableDef struct {
	Name        string
	Columns     []ColumnDef
	Constraints []string // table-level constraints, normalized
}

// Column returns the column with the given name.
func (t *TableDef) Column(name string) (ColumnDef, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// Render regenerates canonical definition text for the table. Rendering a
// just-parsed definition reproduces its normalized form.
func (t *TableDef) Render() string {
	var items []string
	for _, c := range t.Columns {
		item := c.Name + " " + c.Type
		if c.Constraints != "" {
			item += " " + c.Constraints
		}
		items = append(items, item)
	}
	items = append(items, t.Constraints...)
	return Normalize(fmt.Sprintf("create table %s (%s)", t.Name, strings.Join(items, ", ")))
}

// constraint keywords that terminate a column's type expression
var columnConstraintWords = map[string]bool{
	"primary": true, "not": true, "null": true, "default": true,
	"references": true, "unique": true, "check": true, "constraint": true,
	"generated": true, "collate": true,
}

var tableConstraintWords = map[string]bool{
	"primary": true, "foreign": true, "unique": true,
	"check": true, "constraint": true, "exclude": true,
}

// ParseCreateTable parses a CREATE TABLE definition into its structural
// model. Returns false for anything it cannot model, such as other
// statement kinds or syntax it does not know.
func ParseCreateTable(definition string) (*TableDef, bool) {
	tokens := NewLexer(definition).Tokens()
	pos := 0

	word := func(i int) string {
		if i >= len(tokens) || tokens[i].Type != Word {
			return ""
		}
		return strings.ToLower(tokens[i].Value)
	}

	if word(pos) != "create" {
		return nil, false
	}
	pos++
	if word(pos) == "or" && word(pos+1) == "replace" {
		pos += 2
	}
	if word(pos) != "table" {
		return nil, false
	}
	pos++
	if word(pos) == "if" && word(pos+1) == "not" && word(pos+2) == "exists" {
		pos += 3
	}

	if pos >= len(tokens) || (tokens[pos].Type != Word && tokens[pos].Type != QuotedIdent) {
		return nil, false
	}
	def := &TableDef{Name: normalizeToken(tokens[pos])}
	pos++

	if pos >= len(tokens) || tokens[pos].Value != "(" {
		return nil, false
	}
	pos++

	// Split the body on top-level commas.
	var items [][]Token
	var current []Token
	depth := 0
	closed := false
	for ; pos < len(tokens) && !closed; pos++ {
		tok := tokens[pos]
		if tok.Type == Symbol {
			switch tok.Value {
			case "(":
				depth++
			case ")":
				if depth == 0 {
					if len(current) > 0 {
						items = append(items, current)
					}
					closed = true
					continue
				}
				depth--
			case ",":
				if depth == 0 {
					items = append(items, current)
					current = nil
					continue
				}
			}
		}
		current = append(current, tok)
	}
	if !closed {
		return nil, false
	}
	// Trailing clauses after the close paren (tablespace, partitioning)
	// are out of model.
	if pos < len(tokens) {
		return nil, false
	}

	for _, item := range items {
		if len(item) == 0 {
			return nil, false
		}
		first := strings.ToLower(item[0].Value)
		if item[0].Type == Word && tableConstraintWords[first] {
			def.Constraints = append(def.Constraints, renderTokens(item))
			continue
		}

		if item[0].Type != Word && item[0].Type != QuotedIdent {
			return nil, false
		}
		col := ColumnDef{Name: normalizeToken(item[0])}

		// Type runs until the first column-constraint keyword at depth 0.
		typeEnd := len(item)
		d := 0
		for i := 1; i < len(item); i++ {
			t := item[i]
			if t.Type == Symbol && t.Value == "(" {
				d++
			}
			if t.Type == Symbol && t.Value == ")" {
				d--
			}
			if d == 0 && t.Type == Word && columnConstraintWords[strings.ToLower(t.Value)] {
				typeEnd = i
				break
			}
		}
		if typeEnd == 1 {
			return nil, false // column with no type
		}
		col.Type = renderTokens(item[1:typeEnd])
		if typeEnd < len(item) {
			col.Constraints = renderTokens(item[typeEnd:])
		}
		def.Columns = append(def.Columns, col)
	}

	if len(def.Columns) == 0 {
		return nil, false
	}
	return def, true
}

func normalizeToken(tok Token) string {
	if tok.Type == Word {
		return strings.ToLower(tok.Value)
	}
	return tok.Value
}

func renderTokens(tokens []Token) string {
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

// AddedColumns returns the columns of other absent from base, and reports
// whether other is a pure column addition over base: every base column and
// table constraint survives unmodified and nothing was dropped or retyped.
func AddedColumns(base, other *TableDef) ([]ColumnDef, bool) {
	if base.Name != other.Name {
		return nil, false
	}
	for _, bc := range base.Columns {
		oc, ok := other.Column(bc.Name)
		if !ok || oc != bc {
			return nil, false
		}
	}
	if len(base.Constraints) != len(other.Constraints) {
		return nil, false
	}
	for i := range base.Constraints {
		if base.Constraints[i] != other.Constraints[i] {
			return nil, false
		}
	}

	var added []ColumnDef
	for _, oc := range other.Columns {
		if _, ok := base.Column(oc.Name); !ok {
			added = append(added, oc)
		}
	}
	return added, true
}

// RetypedColumn finds a column that both source and target changed to
// different types from the base definition. Used as the best-effort
// type_mismatch classifier; returns false when no such column exists.
func RetypedColumn(base, source, target *TableDef) (string, bool) {
	for _, bc := range base.Columns {
		sc, sok := source.Column(bc.Name)
		tc, tok := target.Column(bc.Name)
		if !sok || !tok {
			continue
		}
		if sc.Type != bc.Type && tc.Type != bc.Type && sc.Type != tc.Type {
			return bc.Name, true
		}
	}
	return "", false
}
