package harness

import (
	"slices"

	"github.com/715d/variantmatrix/pkg/expect"
	"github.com/715d/variantmatrix/pkg/scaffold"
	"github.com/715d/variantmatrix/pkg/variant"
)

// Scenario describes one kind of project, the builds run against it and what
// those builds must report.
type Scenario struct {
	Name        string
	Description string
	Tags        []string

	// Applies selects the variants the scenario runs for. Nil means all.
	Applies func(v variant.Variant) bool

	// Plan returns the declarations and invocations for one variant.
	Plan func(s Setup) Plan
}

// Setup is the input a scenario is planned against.
type Setup struct {
	Variant variant.Variant

	// BuildTypes are all build types the generated module has, debug and
	// release first.
	BuildTypes []string
}

// Plan is the ordered configuration of a project and the builds run on it.
type Plan struct {
	Declarations []scaffold.Declaration
	Invocations  []Invocation
}

// Invocation is one build and the expectations evaluated against it.
type Invocation struct {
	Tasks  []string
	Expect []expect.Expectation
}

// HasTag reports whether the scenario carries tag.
func (s Scenario) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

func (s Scenario) applies(v variant.Variant) bool {
	return s.Applies == nil || s.Applies(v)
}

// hostBuildTypes is the default build types followed by the non-empty
// matrix build types not already present.
func hostBuildTypes(matrix []string) []string {
	types := slices.Clone(scaffold.DefaultBuildTypes)
	for _, bt := range matrix {
		if bt != "" && !slices.Contains(types, bt) {
			types = append(types, bt)
		}
	}
	return types
}

// standardDeclarations configures a module for the plugin under test and
// writes srcs.
func standardDeclarations(s Setup, flavors []string, opts scaffold.JUnit5Options, srcs ...scaffold.Source) []scaffold.Declaration {
	return []scaffold.Declaration{
		scaffold.Buildscript(),
		scaffold.AndroidPlugin(scaffold.Android{Flavors: flavors, BuildTypes: s.BuildTypes}),
		scaffold.LanguagePlugin(s.Variant.Language),
		scaffold.JUnit5Plugin(opts),
		scaffold.Sources(srcs...),
	}
}

// unitTestVariant is a flavor and build type pair with its own unit test task.
type unitTestVariant struct {
	flavor    string
	buildType string
}

// expectTests derives how often every generated test class must pass when the
// unit test tasks of all given variants run. Sources with custom content are
// skipped since their class name is not derived.
func expectTests(srcs []scaffold.Source, variants ...unitTestVariant) []expect.Expectation {
	counts := make(map[string]int)
	var order []string
	for _, src := range srcs {
		if src.Content != "" {
			continue
		}
		className := variant.Resolve(src.Language, src.Flavor, src.BuildType).TestClassName
		if _, seen := counts[className]; !seen {
			order = append(order, className)
			counts[className] = 0
		}
		for _, v := range variants {
			if variant.SourceSetApplies(src.Flavor, src.BuildType, v.flavor, v.buildType) {
				counts[className]++
			}
		}
	}

	exps := make([]expect.Expectation, 0, len(order))
	for _, className := range order {
		exps = append(exps, expect.TestExecuted(className, counts[className]))
	}
	return exps
}

// unitTestRun runs the unit test task of one variant and expects it to
// succeed with every applicable generated class passing once.
func unitTestRun(srcs []scaffold.Source, flavor, buildType string) Invocation {
	task := variant.UnitTestTask(flavor, buildType)
	return Invocation{
		Tasks: []string{task},
		Expect: append(
			[]expect.Expectation{expect.TaskSucceeded(task)},
			expectTests(srcs, unitTestVariant{flavor, buildType})...,
		),
	}
}

// fullBuildRun runs "build" and expects every unit test task of flavor to
// succeed and each class to pass once per build type it applies to.
func fullBuildRun(srcs []scaffold.Source, flavor string, buildTypes []string) Invocation {
	exps := []expect.Expectation{expect.TaskSucceeded("build")}
	variants := make([]unitTestVariant, 0, len(buildTypes))
	for _, bt := range buildTypes {
		exps = append(exps, expect.TaskSucceeded(variant.UnitTestTask(flavor, bt)))
		variants = append(variants, unitTestVariant{flavor, bt})
	}
	return Invocation{
		Tasks:  []string{"build"},
		Expect: append(exps, expectTests(srcs, variants...)...),
	}
}
