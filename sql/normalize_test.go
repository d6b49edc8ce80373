package sql

import (
	"testing"

	"github.com/evoludigit/pggit/core"
)

func TestNormalizeCollapsesWhitespaceAndCase(t *testing.T) {
	a := Normalize("CREATE TABLE public.users (\n  id INT,\n  name TEXT\n);")
	b := Normalize("create   table public.users(id int, name text)")

	if a != b {
		t.Errorf("Expected equal normal forms, got %q vs %q", a, b)
	}
	if a != "create table public.users (id int, name text)" {
		t.Errorf("Unexpected canonical form: %q", a)
	}
}

func TestNormalizeDropsComments(t *testing.T) {
	a := Normalize("CREATE TABLE t (id int) -- trailing comment")
	b := Normalize("/* leading */ CREATE TABLE t (id int)")

	if a != b {
		t.Errorf("Comments should not affect identity: %q vs %q", a, b)
	}
}

func TestNormalizePreservesLiteralsAndQuotedIdents(t *testing.T) {
	got := Normalize(`CREATE TABLE "Users" (Name text DEFAULT 'Hello  World')`)
	want := `create table "Users" (name text default 'Hello  World')`
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestNormalizeEscapedQuote(t *testing.T) {
	got := Normalize(`CREATE TABLE t (v text DEFAULT 'it''s')`)
	want := `create table t (v text default 'it''s')`
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestDetectKind(t *testing.T) {
	cases := []struct {
		definition string
		kind       core.ObjectKind
		ok         bool
	}{
		{"CREATE TABLE t (id int)", core.KindTable, true},
		{"create or replace view v as select 1", core.KindView, true},
		{"CREATE UNIQUE INDEX idx ON t (id)", core.KindIndex, true},
		{"CREATE OR REPLACE FUNCTION f() RETURNS int", core.KindFunction, true},
		{"CREATE SEQUENCE s", core.KindSequence, true},
		{"CREATE TRIGGER trg BEFORE INSERT ON t", core.KindTrigger, true},
		{"CREATE TYPE mood AS ENUM ('sad')", core.KindType, true},
		{"ALTER TABLE t ADD COLUMN x int", "", false},
		{"SELECT 1", "", false},
	}

	for _, c := range cases {
		kind, ok := DetectKind(c.definition)
		if ok != c.ok || kind != c.kind {
			t.Errorf("DetectKind(%q) = (%q, %v), expected (%q, %v)",
				c.definition, kind, ok, c.kind, c.ok)
		}
	}
}
