// Package scaffold generates disposable project trees for one scenario.
package scaffold

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"golang.org/x/tools/txtar"

	"github.com/715d/variantmatrix/pkg/fault"
	"github.com/715d/variantmatrix/pkg/variant"
)

// Fixed file locations below the project root.
const (
	LocalPropertiesFile  = "local.properties"
	GradlePropertiesFile = "gradle.properties"
	BuildFile            = "build.gradle"
	ManifestFile         = "src/main/AndroidManifest.xml"
)

//go:embed templates.txtar
var templatesArchive []byte

var templates = map[string]*template.Template{}

func init() {
	for _, f := range txtar.Parse(templatesArchive).Files {
		templates[f.Name] = template.Must(template.New(f.Name).Option("missingkey=error").Parse(string(f.Data)))
	}
}

func render(name string, data any) (string, error) {
	tmpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("no template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Project is one scaffolded project tree. It is not safe for concurrent use.
type Project struct {
	// Root is the directory the project owns exclusively.
	Root string

	env      Environment
	resolver *variant.Resolver

	descriptor strings.Builder
	sources    []string
}

// New returns a project rooted at root. Nothing is written until Initialize.
func New(root string, env Environment, resolver *variant.Resolver) *Project {
	if env.Package == "" {
		env.Package = DefaultPackage
	}
	if env.PluginID == "" {
		env.PluginID = DefaultPluginID
	}
	if resolver == nil {
		resolver = variant.NewResolver()
	}
	return &Project{Root: root, env: env, resolver: resolver}
}

// Environment returns the environment the project renders against.
func (p *Project) Environment() Environment {
	return p.env
}

// Initialize creates the root, the property files, an empty build file and the
// baseline production class. The root must be missing or empty.
func (p *Project) Initialize() error {
	entries, err := os.ReadDir(p.Root)
	switch {
	case err == nil && len(entries) > 0:
		return fault.Newf(fault.Scaffold, "initialize", "project root %s is not empty", p.Root)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return fault.New(fault.Scaffold, "initialize", err)
	}
	if err := os.MkdirAll(p.Root, 0o755); err != nil {
		return fault.New(fault.Scaffold, "initialize", err)
	}

	files := []struct {
		rel      string
		template string
		data     any
	}{
		{LocalPropertiesFile, "local.properties", p.env},
		{GradlePropertiesFile, "gradle.properties", p.env},
		{filepath.Join("src", "main", "java", p.env.PackagePath(), "Adder.java"), "Adder.java", p.env},
	}
	for _, f := range files {
		content, err := render(f.template, f.data)
		if err != nil {
			return fault.New(fault.Scaffold, "initialize", err)
		}
		if _, err := p.writeFile(f.rel, content); err != nil {
			return fault.New(fault.Scaffold, "initialize", err)
		}
	}

	if _, err := p.writeFile(BuildFile, ""); err != nil {
		return fault.New(fault.Scaffold, "initialize", err)
	}
	return nil
}

// AppendBuildDeclaration appends section verbatim to the build file.
func (p *Project) AppendBuildDeclaration(section string) error {
	f, err := os.OpenFile(p.path(BuildFile), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fault.New(fault.Scaffold, "append build declaration", err)
	}
	defer f.Close()

	if _, err := f.WriteString(section); err != nil {
		return fault.New(fault.Scaffold, "append build declaration", err)
	}
	p.descriptor.WriteString(section)
	return nil
}

// WriteManifest writes the application manifest for the given package.
func (p *Project) WriteManifest(pkg string) error {
	content, err := render("AndroidManifest.xml", pkg)
	if err != nil {
		return fault.New(fault.Scaffold, "write manifest", err)
	}
	if _, err := p.writeFile(filepath.FromSlash(ManifestFile), content); err != nil {
		return fault.New(fault.Scaffold, "write manifest", err)
	}
	return nil
}

// Source describes one test source file.
type Source struct {
	Language  variant.Language
	Flavor    string
	BuildType string

	// Content replaces the language's default template when set.
	Content string
}

// WriteSource writes src into its source set and returns the file path.
func (p *Project) WriteSource(src Source) (string, error) {
	id := p.resolver.Lookup(src.Language, src.Flavor, src.BuildType)

	content := src.Content
	if content == "" {
		content = src.Language.DefaultTemplate
	}
	if content == "" {
		return "", fault.Newf(fault.Scaffold, "write source", "language %s has no default template", src.Language)
	}
	content = strings.ReplaceAll(content, variant.NamePlaceholder, id.TestClassName)
	content = strings.ReplaceAll(content, variant.PackagePlaceholder, p.env.Package)

	path := id.SourcePath(p.Root, p.env.Package)
	rel, err := filepath.Rel(p.Root, path)
	if err != nil {
		return "", fault.New(fault.Scaffold, "write source", err)
	}
	if _, err := p.writeFile(rel, content); err != nil {
		return "", fault.New(fault.Scaffold, "write source", err)
	}
	p.sources = append(p.sources, path)
	return path, nil
}

// BuildDescriptor returns everything appended to the build file so far.
func (p *Project) BuildDescriptor() string {
	return p.descriptor.String()
}

// Sources lists the test source files written so far.
func (p *Project) Sources() []string {
	return append([]string(nil), p.sources...)
}

func (p *Project) path(rel string) string {
	return filepath.Join(p.Root, rel)
}

// writeFile writes content to rel, refusing paths that leave the root.
func (p *Project) writeFile(rel, content string) (string, error) {
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("path %q escapes project root", rel)
	}
	path := p.path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
