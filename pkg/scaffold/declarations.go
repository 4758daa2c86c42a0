package scaffold

import (
	"fmt"
	"slices"

	"github.com/715d/variantmatrix/pkg/variant"
)

// Declaration is one step that configures a project, usually by appending a
// build file section. Declarations are applied in order.
type Declaration func(p *Project) error

// Apply runs decls in order and stops at the first failure.
func (p *Project) Apply(decls ...Declaration) error {
	for i, decl := range decls {
		if decl == nil {
			continue
		}
		if err := decl(p); err != nil {
			return fmt.Errorf("declaration %d: %w", i, err)
		}
	}
	return nil
}

func appendRendered(p *Project, name string, data any) error {
	section, err := render(name, data)
	if err != nil {
		return err
	}
	return p.AppendBuildDeclaration(section)
}

// Buildscript puts the plugin classpath on the build script classpath.
func Buildscript() Declaration {
	return func(p *Project) error {
		return appendRendered(p, "buildscript.gradle", struct{ Plugin string }{
			Plugin: SplitClasspath(p.env.Classpath.Plugin),
		})
	}
}

// DefaultBuildTypes are the build types every application module has.
var DefaultBuildTypes = []string{"debug", "release"}

// Android describes the application module.
type Android struct {
	// Flavors are declared in a single "tier" dimension.
	Flavors []string

	// BuildTypes beyond debug and release are declared on top of debug.
	BuildTypes []string
}

// AndroidPlugin applies the Android application plugin.
func AndroidPlugin(a Android) Declaration {
	return func(p *Project) error {
		var buildTypes []string
		for _, bt := range a.BuildTypes {
			if bt != "" && !slices.Contains(DefaultBuildTypes, bt) && !slices.Contains(buildTypes, bt) {
				buildTypes = append(buildTypes, bt)
			}
		}
		var flavors []string
		for _, f := range a.Flavors {
			if f != "" && !slices.Contains(flavors, f) {
				flavors = append(flavors, f)
			}
		}
		return appendRendered(p, "android.gradle", struct {
			Env         Environment
			Flavors     []string
			BuildTypes  []string
			TestCompile string
		}{
			Env:         p.env,
			Flavors:     flavors,
			BuildTypes:  buildTypes,
			TestCompile: SplitClasspath(p.env.Classpath.TestCompile),
		})
	}
}

// LanguagePlugin applies the extra plugin a language needs and points the
// main and test source sets at its directory. Languages without a plugin
// declare nothing.
func LanguagePlugin(lang variant.Language) Declaration {
	return func(p *Project) error {
		if lang.PluginID == "" {
			return nil
		}
		return appendRendered(p, "language.gradle", struct {
			PluginID    string
			SourceDir   string
			TestCompile string
		}{
			PluginID:    lang.PluginID,
			SourceDir:   lang.SourceDir,
			TestCompile: SplitClasspath(p.env.Classpath.TestCompile),
		})
	}
}

// JUnit5Options are raw snippets spliced into the plugin's configuration.
type JUnit5Options struct {
	PlatformConfig    string `yaml:"platform_config"`
	TestOptionsConfig string `yaml:"test_options_config"`
}

// JUnit5Plugin applies the plugin under test with test logging enabled.
func JUnit5Plugin(opts JUnit5Options) Declaration {
	return func(p *Project) error {
		return appendRendered(p, "junit5.gradle", struct {
			JUnit5Options
			PluginID    string
			TestCompile string
		}{
			JUnit5Options: opts,
			PluginID:      p.env.PluginID,
			TestCompile:   SplitClasspath(p.env.Classpath.TestCompile),
		})
	}
}

// Sources writes each source in order.
func Sources(srcs ...Source) Declaration {
	return func(p *Project) error {
		for _, src := range srcs {
			if _, err := p.WriteSource(src); err != nil {
				return err
			}
		}
		return nil
	}
}
