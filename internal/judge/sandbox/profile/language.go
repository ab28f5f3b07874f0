// Package profile describes the supported languages and how each one is built and run.
package profile

// Pipeline is the shape of a language's step sequence.
type Pipeline int

const (
	// RunOnly executes the source directly.
	RunOnly Pipeline = iota
	// CompileThenRun builds an executable first and stops on a failed build.
	CompileThenRun
)

func (p Pipeline) String() string {
	switch p {
	case RunOnly:
		return "run-only"
	case CompileThenRun:
		return "compile-then-run"
	}
	return "unknown"
}

// LanguageSpec is one member of the closed language set.
type LanguageSpec struct {
	ID         string
	Aliases    []string
	SourceFile string
	Extension  string
	BinaryFile string
	Pipeline   Pipeline
	Image      string
	// CompileCmdTpl and RunCmdTpl support {src} and {bin} placeholders.
	CompileCmdTpl string
	RunCmdTpl     string
	Env           []string
}

// RequiresCompile reports whether a COMPILE step precedes RUN.
func (l LanguageSpec) RequiresCompile() bool {
	return l.Pipeline == CompileThenRun
}

const (
	LanguageCpp    = "cpp"
	LanguagePython = "python"
	LanguageJava   = "java"
	LanguageRust   = "rust"
)

// DefaultLanguages returns the built-in language set.
func DefaultLanguages() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:            LanguageCpp,
			Aliases:       []string{"c++"},
			SourceFile:    "solution.cpp",
			Extension:     "cpp",
			BinaryFile:    "solution",
			Pipeline:      CompileThenRun,
			Image:         "klaus-judge-cpp:latest",
			CompileCmdTpl: "g++ -o {bin} {src}",
			RunCmdTpl:     "./{bin}",
		},
		{
			ID:         LanguagePython,
			Aliases:    []string{"py"},
			SourceFile: "solution.py",
			Extension:  "py",
			Pipeline:   RunOnly,
			Image:      "klaus-judge-python:latest",
			RunCmdTpl:  "python {src}",
		},
		{
			ID:            LanguageJava,
			SourceFile:    "Solution.java",
			Extension:     "java",
			BinaryFile:    "Solution",
			Pipeline:      CompileThenRun,
			Image:         "klaus-judge-java:latest",
			CompileCmdTpl: "javac {src}",
			RunCmdTpl:     "java {bin}",
		},
		{
			ID:            LanguageRust,
			Aliases:       []string{"rs"},
			SourceFile:    "solution.rs",
			Extension:     "rs",
			BinaryFile:    "solution",
			Pipeline:      CompileThenRun,
			Image:         "klaus-judge-rust:latest",
			CompileCmdTpl: "rustc -O -o {bin} {src}",
			RunCmdTpl:     "./{bin}",
		},
	}
}
