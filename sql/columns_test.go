package sql

import "testing"

func TestParseCreateTable(t *testing.T) {
	def, ok := ParseCreateTable(`CREATE TABLE public.users (
		id INT PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		balance NUMERIC(10, 2) DEFAULT 0,
		PRIMARY KEY (id)
	)`)
	if !ok {
		t.Fatal("Expected parse to succeed")
	}

	if def.Name != "public.users" {
		t.Errorf("Expected name public.users, got %q", def.Name)
	}
	if len(def.Columns) != 3 {
		t.Fatalf("Expected 3 columns, got %d", len(def.Columns))
	}

	email, ok := def.Column("email")
	if !ok {
		t.Fatal("Expected email column")
	}
	if email.Type != "varchar (255)" {
		t.Errorf("Expected type varchar (255), got %q", email.Type)
	}
	if email.Constraints != "not null" {
		t.Errorf("Expected constraints not null, got %q", email.Constraints)
	}

	if len(def.Constraints) != 1 || def.Constraints[0] != "primary key (id)" {
		t.Errorf("Expected table constraint primary key (id), got %v", def.Constraints)
	}
}

func TestParseCreateTableRejectsNonTables(t *testing.T) {
	for _, definition := range []string{
		"CREATE VIEW v AS SELECT 1",
		"CREATE TABLE t (id int) PARTITION BY RANGE (id)",
		"CREATE TABLE t ()",
		"not sql at all",
	} {
		if _, ok := ParseCreateTable(definition); ok {
			t.Errorf("Expected parse of %q to fail", definition)
		}
	}
}

func TestRenderRoundTrips(t *testing.T) {
	input := "CREATE TABLE t (id INT PRIMARY KEY, name TEXT)"
	def, ok := ParseCreateTable(input)
	if !ok {
		t.Fatal("Expected parse to succeed")
	}

	if def.Render() != Normalize(input) {
		t.Errorf("Render %q does not match normalized input %q", def.Render(), Normalize(input))
	}
}

func TestAddedColumns(t *testing.T) {
	base, _ := ParseCreateTable("CREATE TABLE t (id int)")
	extended, _ := ParseCreateTable("CREATE TABLE t (id int, email text)")
	retyped, _ := ParseCreateTable("CREATE TABLE t (id bigint)")
	dropped, _ := ParseCreateTable("CREATE TABLE t (other int)")

	added, ok := AddedColumns(base, extended)
	if !ok || len(added) != 1 || added[0].Name != "email" {
		t.Errorf("Expected pure addition of email, got %v ok=%v", added, ok)
	}

	if _, ok := AddedColumns(base, retyped); ok {
		t.Error("Retyped column should not count as pure addition")
	}
	if _, ok := AddedColumns(base, dropped); ok {
		t.Error("Dropped column should not count as pure addition")
	}
}

func TestRetypedColumn(t *testing.T) {
	base, _ := ParseCreateTable("CREATE TABLE t (id int, email varchar (100))")
	source, _ := ParseCreateTable("CREATE TABLE t (id int, email text)")
	target, _ := ParseCreateTable("CREATE TABLE t (id int, email varchar (255))")

	col, ok := RetypedColumn(base, source, target)
	if !ok || col != "email" {
		t.Errorf("Expected retyped column email, got %q ok=%v", col, ok)
	}

	// Same retype on both sides is not a type mismatch.
	if _, ok := RetypedColumn(base, source, source); ok {
		t.Error("Identical retypes should not report a mismatch")
	}
}
