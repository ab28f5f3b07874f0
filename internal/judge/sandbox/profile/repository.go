package profile

import (
	"slices"
	"strings"

	appErr "klausjudge/pkg/errors"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/shlex"
)

// Override replaces parts of a built-in language from configuration.
type Override struct {
	Image   string `yaml:"image" toml:"image"`
	Compile string `yaml:"compile" toml:"compile"`
	Run     string `yaml:"run" toml:"run"`
}

// Repository resolves language tags, including aliases, to specs.
type Repository struct {
	languages map[string]LanguageSpec
	tags      mapset.Set[string]
}

// NewRepository builds a repository from specs. Override keys may be any accepted
// tag of a language; blank template overrides keep the defaults.
func NewRepository(languages []LanguageSpec, overrides map[string]Override) (*Repository, error) {
	resolved, err := resolveOverrides(languages, overrides)
	if err != nil {
		return nil, err
	}
	repo := &Repository{
		languages: make(map[string]LanguageSpec),
		tags:      mapset.NewThreadUnsafeSet[string](),
	}
	for _, lang := range languages {
		if lang.ID == "" {
			continue
		}
		if o, ok := resolved[lang.ID]; ok {
			if o.Image != "" {
				lang.Image = o.Image
			}
			if o.Compile != "" {
				lang.CompileCmdTpl = o.Compile
			}
			if o.Run != "" {
				lang.RunCmdTpl = o.Run
			}
		}
		if lang.RequiresCompile() {
			if _, err := lang.CompileCommand(); err != nil {
				return nil, err
			}
		}
		if _, err := lang.RunCommand(); err != nil {
			return nil, err
		}
		for _, tag := range append([]string{lang.ID}, lang.Aliases...) {
			tag = normalizeTag(tag)
			repo.tags.Add(tag)
			repo.languages[tag] = lang
		}
	}
	return repo, nil
}

// resolveOverrides rekeys overrides by language ID. Two keys naming the same
// language are rejected.
func resolveOverrides(languages []LanguageSpec, overrides map[string]Override) (map[string]Override, error) {
	if len(overrides) == 0 {
		return nil, nil
	}
	ids := make(map[string]string)
	for _, lang := range languages {
		if lang.ID == "" {
			continue
		}
		for _, tag := range append([]string{lang.ID}, lang.Aliases...) {
			ids[normalizeTag(tag)] = lang.ID
		}
	}
	resolved := make(map[string]Override, len(overrides))
	keys := make(map[string]string, len(overrides))
	for key, o := range overrides {
		id, ok := ids[normalizeTag(key)]
		if !ok {
			return nil, appErr.New(appErr.LanguageNotSupported).WithMessage("Language not supported: " + key)
		}
		if prev, dup := keys[id]; dup {
			return nil, appErr.New(appErr.InvalidParams).
				WithMessage("duplicate language override for " + id + ": " + prev + ", " + key)
		}
		keys[id] = key
		resolved[id] = o
	}
	return resolved, nil
}

// NewDefaultRepository returns the built-in language set.
func NewDefaultRepository() *Repository {
	repo, err := NewRepository(DefaultLanguages(), nil)
	if err != nil {
		panic(err)
	}
	return repo
}

// Lookup resolves a tag case-insensitively.
func (r *Repository) Lookup(tag string) (LanguageSpec, error) {
	lang, ok := r.languages[normalizeTag(tag)]
	if !ok {
		return LanguageSpec{}, appErr.New(appErr.LanguageNotSupported).WithMessage("Language not supported: " + tag)
	}
	return lang, nil
}

// Tags returns every accepted tag, sorted.
func (r *Repository) Tags() []string {
	tags := r.tags.ToSlice()
	slices.Sort(tags)
	return tags
}

// CompileCommand expands the compile template into an argv.
func (l LanguageSpec) CompileCommand() ([]string, error) {
	return buildCommand(l.CompileCmdTpl, l)
}

// RunCommand expands the run template into an argv.
func (l LanguageSpec) RunCommand() ([]string, error) {
	return buildCommand(l.RunCmdTpl, l)
}

func buildCommand(tpl string, lang LanguageSpec) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required for " + lang.ID)
	}
	expanded := strings.ReplaceAll(tpl, "{src}", lang.SourceFile)
	expanded = strings.ReplaceAll(expanded, "{bin}", lang.BinaryFile)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
