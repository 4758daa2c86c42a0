// Package variant models the variant matrix: languages, axes, variants and the
// names a correctly configured build derives from them.
package variant

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/tools/txtar"
)

// Placeholder tokens substituted into test source templates.
const (
	NamePlaceholder    = "__NAME__"
	PackagePlaceholder = "__PACKAGE__"
)

// Language describes how test sources of one language are laid out.
type Language struct {
	// Name is the tag used as the test class prefix, e.g. "Java".
	Name string

	// Extension is the source file extension without the dot.
	Extension string

	// SourceDir is the directory segment below the source set, e.g. "java".
	SourceDir string

	// PluginID is an extra build plugin the language needs, if any.
	PluginID string

	// DefaultTemplate is the test source written when no content is given.
	DefaultTemplate string
}

// FileName returns the file name of a class in this language.
func (l Language) FileName(className string) string {
	return className + "." + l.Extension
}

func (l Language) String() string {
	return l.Name
}

//go:embed templates.txtar
var templatesArchive []byte

var (
	Java = Language{
		Name:      "Java",
		Extension: "java",
		SourceDir: "java",
	}
	Kotlin = Language{
		Name:      "Kotlin",
		Extension: "kt",
		SourceDir: "kotlin",
		PluginID:  "kotlin-android",
	}
)

var languages = map[string]Language{}

func init() {
	templates := make(map[string]string)
	for _, f := range txtar.Parse(templatesArchive).Files {
		templates[f.Name] = string(f.Data)
	}
	for _, lang := range []*Language{&Java, &Kotlin} {
		lang.DefaultTemplate = templates[lang.Name]
		languages[strings.ToLower(lang.Name)] = *lang
	}
}

// LookupLanguage finds a known language by case-insensitive name.
func LookupLanguage(name string) (Language, error) {
	lang, ok := languages[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Language{}, fmt.Errorf("unknown language %q (known: %s)", name, strings.Join(LanguageNames(), ", "))
	}
	return lang, nil
}

// LanguageNames returns the names of all known languages, sorted.
func LanguageNames() []string {
	names := make([]string, 0, len(languages))
	for _, lang := range languages {
		names = append(names, lang.Name)
	}
	slices.Sort(names)
	return names
}
