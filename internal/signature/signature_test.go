package signature

import "testing"

func intPtr(i int) *int { return &i }

func TestGenerateInlineFlattening(t *testing.T) {
	gen, err := NewGenerator(Config{})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	ct := CrashingThread{Frames: []Frame{
		{
			Module:   "m.dll",
			Function: "outer",
			Inlines: []Frame{
				{Function: "inline1"},
				{Function: "inline2"},
			},
		},
		{Module: "m.dll", Function: "main"},
	}}

	got := gen.Generate(ct)
	want := "m.dll!inline1|m.dll!inline2|m.dll!outer|m.dll!main"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGenerateFileLineFallback(t *testing.T) {
	gen, err := NewGenerator(Config{})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	ct := CrashingThread{Frames: []Frame{
		{Module: "app.exe", File: "/src/widget.cc", Line: intPtr(42)},
	}}

	got := gen.Generate(ct)
	want := "app.exe!widget.cc#42"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGenerateModuleOnlyFallback(t *testing.T) {
	gen, err := NewGenerator(Config{})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	ct := CrashingThread{Frames: []Frame{{Module: "ntdll.dll"}}}

	got := gen.Generate(ct)
	want := "ntdll.dll!"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGenerateEmptyYieldsNone(t *testing.T) {
	gen, err := NewGenerator(Config{})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	if got := gen.Generate(CrashingThread{}); got != "NONE" {
		t.Fatalf("got %q, want NONE", got)
	}
}

func TestGenerateSkipPattern(t *testing.T) {
	gen, err := NewGenerator(Config{SkipPatterns: []string{`^libc\.so`}})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	ct := CrashingThread{Frames: []Frame{
		{Module: "libc.so", Function: "malloc"},
		{Module: "app", Function: "crash_here"},
	}}

	got := gen.Generate(ct)
	want := "app!crash_here"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGenerateEndPatternStopsAccumulation(t *testing.T) {
	gen, err := NewGenerator(Config{EndPatterns: []string{`^app!main$`}})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	ct := CrashingThread{Frames: []Frame{
		{Module: "app", Function: "crash_here"},
		{Module: "app", Function: "main"},
		{Module: "libc.so", Function: "start"},
	}}

	got := gen.Generate(ct)
	want := "app!crash_here|app!main"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGenerateTruncatesToMaxFrameCount(t *testing.T) {
	gen, err := NewGenerator(Config{MaximumFrameCount: 2})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	ct := CrashingThread{Frames: []Frame{
		{Module: "app", Function: "a"},
		{Module: "app", Function: "b"},
		{Module: "app", Function: "c"},
	}}

	got := gen.Generate(ct)
	want := "app!a|app!b"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCondenseTemplateFunction(t *testing.T) {
	got := condense("std::vector<int>::push_back(const int&)")
	want := "std::vector<T>::push_back"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCondenseOperator(t *testing.T) {
	got := condense("MyClass::operator==(const MyClass&)")
	want := "MyClass::operator=="
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCondenseNestedTemplates(t *testing.T) {
	got := condense("std::map<std::string, std::vector<int>>::find(const std::string&)")
	want := "std::map<T>::find"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCondenseNoParens(t *testing.T) {
	got := condense("crash_handler")
	want := "crash_handler"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
