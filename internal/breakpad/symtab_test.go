package breakpad

import "testing"

const sampleSym = `MODULE Linux x86_64 000000000000000000000000000000000 app
FILE 0 /src/widget.cc
FUNC 1000 50 0 Widget::Render
1000 10 42 0
1010 40 43 0
PUBLIC 2000 0 _start
`

func TestParseSymbolFileAndLookup(t *testing.T) {
	st, err := ParseSymbolFile([]byte(sampleSym))
	if err != nil {
		t.Fatalf("ParseSymbolFile: %v", err)
	}

	if st.Module.Name != "app" || st.Module.OS != "Linux" || st.Module.Arch != "x86_64" {
		t.Fatalf("unexpected module: %+v", st.Module)
	}

	fn, file, line := st.Lookup(0x1005)
	if fn != "Widget::Render" {
		t.Fatalf("got function %q, want Widget::Render", fn)
	}
	if file != "/src/widget.cc" {
		t.Fatalf("got file %q", file)
	}
	if line == nil || *line != 42 {
		t.Fatalf("got line %v, want 42", line)
	}

	fn, _, _ = st.Lookup(0x1020)
	if fn != "Widget::Render" {
		t.Fatalf("second line record: got function %q", fn)
	}

	fn, file, line = st.Lookup(0x2000)
	if fn != "_start" {
		t.Fatalf("public lookup: got function %q, want _start", fn)
	}
	if file != "" || line != nil {
		t.Fatalf("public lookup should not resolve file/line, got %q/%v", file, line)
	}
}

func TestParseSymbolFileRejectsMissingModule(t *testing.T) {
	_, err := ParseSymbolFile([]byte("FUNC 10 1 0 foo\n"))
	if err == nil {
		t.Fatal("expected error for missing MODULE record")
	}
}

func TestLookupUnknownAddressReturnsEmpty(t *testing.T) {
	st, err := ParseSymbolFile([]byte(sampleSym))
	if err != nil {
		t.Fatalf("ParseSymbolFile: %v", err)
	}

	fn, file, line := st.Lookup(0x500)
	if fn != "" || file != "" || line != nil {
		t.Fatalf("expected empty resolution, got %q/%q/%v", fn, file, line)
	}
}
