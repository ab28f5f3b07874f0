package profile

import (
	"reflect"
	"testing"

	appErr "klausjudge/pkg/errors"
)

func TestLookupAliases(t *testing.T) {
	repo := NewDefaultRepository()
	cases := map[string]string{
		"cpp":    LanguageCpp,
		"C++":    LanguageCpp,
		"py":     LanguagePython,
		"Python": LanguagePython,
		"java":   LanguageJava,
		"rs":     LanguageRust,
		" rust ": LanguageRust,
	}
	for tag, want := range cases {
		lang, err := repo.Lookup(tag)
		if err != nil {
			t.Fatalf("lookup %q: %v", tag, err)
		}
		if lang.ID != want {
			t.Fatalf("lookup %q: expected %s, got %s", tag, want, lang.ID)
		}
	}
}

func TestLookupUnknownLanguage(t *testing.T) {
	_, err := NewDefaultRepository().Lookup("cobol")
	if appErr.GetCode(err) != appErr.LanguageNotSupported {
		t.Fatalf("expected language not supported, got %v", err)
	}
	if err.Error() != "Language not supported: cobol" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestPipelineShapes(t *testing.T) {
	repo := NewDefaultRepository()
	py, _ := repo.Lookup("python")
	if py.RequiresCompile() {
		t.Fatalf("python must be run-only")
	}
	for _, tag := range []string{"cpp", "java", "rust"} {
		lang, _ := repo.Lookup(tag)
		if !lang.RequiresCompile() {
			t.Fatalf("%s must compile first", tag)
		}
	}
}

func TestCommandExpansion(t *testing.T) {
	repo := NewDefaultRepository()
	cpp, _ := repo.Lookup("cpp")
	compile, err := cpp.CompileCommand()
	if err != nil {
		t.Fatalf("compile command: %v", err)
	}
	if !reflect.DeepEqual(compile, []string{"g++", "-o", "solution", "solution.cpp"}) {
		t.Fatalf("unexpected compile argv %v", compile)
	}
	run, _ := cpp.RunCommand()
	if !reflect.DeepEqual(run, []string{"./solution"}) {
		t.Fatalf("unexpected run argv %v", run)
	}
	java, _ := repo.Lookup("java")
	run, _ = java.RunCommand()
	if !reflect.DeepEqual(run, []string{"java", "Solution"}) {
		t.Fatalf("unexpected java argv %v", run)
	}
}

func TestOverrides(t *testing.T) {
	repo, err := NewRepository(DefaultLanguages(), map[string]Override{
		"python": {Image: "python:3.12-slim", Run: `python3 -u "{src}"`},
	})
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	py, _ := repo.Lookup("py")
	if py.Image != "python:3.12-slim" {
		t.Fatalf("image override not applied: %s", py.Image)
	}
	run, _ := py.RunCommand()
	if !reflect.DeepEqual(run, []string{"python3", "-u", "solution.py"}) {
		t.Fatalf("unexpected argv %v", run)
	}
	cpp, _ := repo.Lookup("cpp")
	if cpp.Image != "klaus-judge-cpp:latest" {
		t.Fatalf("unrelated language changed")
	}
}

func TestOverridesKeyedByAliasOrCase(t *testing.T) {
	repo, err := NewRepository(DefaultLanguages(), map[string]Override{
		"py":  {Image: "custom-python:3.12"},
		"CPP": {Image: "custom-cpp:13"},
		" Rs": {Compile: "rustc -o {bin} {src}"},
	})
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	for tag, image := range map[string]string{"python": "custom-python:3.12", "c++": "custom-cpp:13"} {
		lang, err := repo.Lookup(tag)
		if err != nil {
			t.Fatalf("lookup %s: %v", tag, err)
		}
		if lang.Image != image {
			t.Fatalf("%s: expected image %s, got %s", tag, image, lang.Image)
		}
	}
	rust, _ := repo.Lookup("rust")
	compile, _ := rust.CompileCommand()
	if !reflect.DeepEqual(compile, []string{"rustc", "-o", "solution", "solution.rs"}) {
		t.Fatalf("compile override not applied: %v", compile)
	}
}

func TestOverrideDuplicateLanguage(t *testing.T) {
	_, err := NewRepository(DefaultLanguages(), map[string]Override{
		"python": {Image: "a"},
		"py":     {Image: "b"},
	})
	if appErr.GetCode(err) != appErr.InvalidParams {
		t.Fatalf("expected invalid params for duplicate override, got %v", err)
	}
}

func TestOverrideUnknownLanguage(t *testing.T) {
	if _, err := NewRepository(DefaultLanguages(), map[string]Override{"go": {Image: "golang"}}); err == nil {
		t.Fatalf("expected error for unknown language override")
	}
}

func TestTags(t *testing.T) {
	tags := NewDefaultRepository().Tags()
	want := []string{"c++", "cpp", "java", "py", "python", "rs", "rust"}
	if !reflect.DeepEqual(tags, want) {
		t.Fatalf("unexpected tags %v", tags)
	}
}
