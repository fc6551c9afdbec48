package record

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse_PreservesKeyOrder(t *testing.T) {
	rec := mustParse(t, `{"zeta":1,"alpha":"x","mid":null,"beta":false}`)

	want := []string{"zeta", "alpha", "mid", "beta"}
	if diff := cmp.Diff(want, rec.Keys()); diff != "" {
		t.Errorf("key order mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_RejectsNonObjects(t *testing.T) {
	for _, input := range []string{`[1,2]`, `"str"`, `{"a":`, ``} {
		if _, err := Parse([]byte(input)); !errors.Is(err, ErrInvalidJSON) {
			t.Errorf("Parse(%q) = %v, want ErrInvalidJSON", input, err)
		}
	}
}

func TestRecord_SetKeepsPosition(t *testing.T) {
	rec := New()
	rec.Set("a", 1.0)
	rec.Set("b", 2.0)
	rec.Set("a", 3.0)

	if diff := cmp.Diff([]any{3.0, 2.0}, rec.Values()); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestRecord_Delete(t *testing.T) {
	rec := mustParse(t, `{"a":1,"b":2,"c":3}`)
	rec.Delete("b")
	rec.Set("d", 4.0)

	if diff := cmp.Diff([]string{"a", "c", "d"}, rec.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if v, _ := rec.Get("c"); v != 3.0 {
		t.Errorf("Get(c) = %v after delete", v)
	}
}

func TestRecord_MarshalJSONRoundTripOrder(t *testing.T) {
	input := `{"name":"Ann","since":{"_seconds":1,"_nanoseconds":0},"tags":["x"],"n":null}`
	rec := mustParse(t, input)

	data, err := rec.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	if string(data) != input {
		t.Errorf("MarshalJSON = %s, want %s", data, input)
	}
}

func TestRecord_NilSafe(t *testing.T) {
	var rec *Record
	if rec.Len() != 0 || len(rec.Keys()) != 0 || rec.Has("x") {
		t.Error("nil record should behave as empty")
	}
	if !rec.Equal(New()) {
		t.Error("nil record should equal an empty record")
	}
}

func TestColumns_ProjectAndRow(t *testing.T) {
	rec := mustParse(t, `{"email":"a@b.c","name":"Ann","extra":1}`)
	cols := Columns{"name", "email", "phone"}

	row := cols.Row("cust-1", rec)
	want := []any{"cust-1", "Ann", "a@b.c", ""}
	if diff := cmp.Diff(want, row); diff != "" {
		t.Errorf("Row mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"extra"}, cols.Extra(rec)); diff != "" {
		t.Errorf("Extra mismatch (-want +got):\n%s", diff)
	}
}

func TestColumns_UndeclaredUsesRecordOrder(t *testing.T) {
	rec := mustParse(t, `{"b":"2","a":"1","nested":{"k":"v"}}`)

	row := Columns(nil).Row("id", rec)
	want := []any{"id", "2", "1", `{"k":"v"}`}
	if diff := cmp.Diff(want, row); diff != "" {
		t.Errorf("Row mismatch (-want +got):\n%s", diff)
	}
}

func TestColumns_Validate(t *testing.T) {
	if err := (Columns{"a", "b"}).Validate(); err != nil {
		t.Errorf("valid columns rejected: %v", err)
	}
	if err := (Columns{"a", ""}).Validate(); err == nil {
		t.Error("empty column name accepted")
	}
	if err := (Columns{"a", "a"}).Validate(); err == nil {
		t.Error("duplicate column accepted")
	}
}

func TestColumns_Header(t *testing.T) {
	got := Columns{"name"}.Header("")
	if diff := cmp.Diff([]string{DefaultKeyHeader, "name"}, got); diff != "" {
		t.Errorf("Header mismatch (-want +got):\n%s", diff)
	}
}

func TestIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		id   string
		ok   bool
	}{
		{"/store/cust-42.json", "cust-42", true},
		{"cust-42.txt", "", false},
		{"/store/.cust-42.json.tmp", "", false},
		{"/store/.hidden.json", "", false},
		{"/store/.json", "", false},
	}
	for _, tt := range tests {
		id, ok := IDFromPath(tt.path)
		if id != tt.id || ok != tt.ok {
			t.Errorf("IDFromPath(%q) = (%q, %v), want (%q, %v)", tt.path, id, ok, tt.id, tt.ok)
		}
	}
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"", "  ", "a/b", "a.b", "a#b", "a[0]"} {
		if err := ValidateID(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("ValidateID(%q) = %v, want ErrInvalidID", id, err)
		}
	}
	if err := ValidateID("cust-42"); err != nil {
		t.Errorf("ValidateID(cust-42) = %v", err)
	}
}

func TestWriteReadFile(t *testing.T) {
	dir := t.TempDir()
	rec := mustParse(t, `{"name":"Ann","since":{"_seconds":1700000000,"_nanoseconds":0}}`)

	if err := WriteFile(dir, "cust-42", rec); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := ReadFile(Path(dir, "cust-42"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !got.Equal(rec) {
		t.Errorf("round trip mismatch: %v vs %v", got.Values(), rec.Values())
	}

	if _, err := os.Stat(filepath.Join(dir, ".cust-42.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	if err := WriteFile(dir, "a", mustParse(t, `{"n":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(dir, "b", mustParse(t, `{"n":2}`)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	records, skipped, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
	if len(skipped) != 1 {
		t.Errorf("expected 1 skipped file, got %d", len(skipped))
	}
}

func TestReadDir_MissingDirectory(t *testing.T) {
	records, skipped, err := ReadDir(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(records) != 0 || len(skipped) != 0 {
		t.Errorf("expected empty store, got %d records", len(records))
	}
}

func TestRemoveFile(t *testing.T) {
	dir := t.TempDir()
	if err := WriteFile(dir, "a", New()); err != nil {
		t.Fatal(err)
	}
	if err := RemoveFile(dir, "a"); err != nil {
		t.Fatalf("RemoveFile failed: %v", err)
	}
	if err := RemoveFile(dir, "a"); err != nil {
		t.Errorf("RemoveFile on missing file should be nil, got %v", err)
	}
}
