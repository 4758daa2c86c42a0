package harness

import (
	"slices"

	"github.com/715d/variantmatrix/pkg/expect"
	"github.com/715d/variantmatrix/pkg/fault"
	"github.com/715d/variantmatrix/pkg/scaffold"
	"github.com/715d/variantmatrix/pkg/variant"
)

// Scenarios returns the built-in scenarios in execution order.
func Scenarios() []Scenario {
	return []Scenario{
		{
			Name:        "default-source-set",
			Description: "Executes tests in the default source set under every build type.",
			Tags:        []string{"source-sets"},
			Applies:     unqualified,
			Plan: func(s Setup) Plan {
				lang := s.Variant.Language
				srcs := []scaffold.Source{{Language: lang}}
				return Plan{
					Declarations: standardDeclarations(s, nil, scaffold.JUnit5Options{}, srcs...),
					Invocations:  []Invocation{fullBuildRun(srcs, "", s.BuildTypes)},
				}
			},
		},
		{
			Name:        "build-type-source-set",
			Description: "Executes build-type-specific tests only in their build type's unit test task.",
			Tags:        []string{"source-sets"},
			Applies: func(v variant.Variant) bool {
				return v.Flavor == "" && v.BuildType != ""
			},
			Plan: func(s Setup) Plan {
				lang := s.Variant.Language
				srcs := []scaffold.Source{
					{Language: lang},
					{Language: lang, BuildType: s.Variant.BuildType},
				}
				var runs []Invocation
				for _, bt := range s.BuildTypes {
					runs = append(runs, unitTestRun(srcs, "", bt))
				}
				return Plan{
					Declarations: standardDeclarations(s, nil, scaffold.JUnit5Options{}, srcs...),
					Invocations:  runs,
				}
			},
		},
		{
			Name:        "flavor-source-set",
			Description: "Executes flavor-specific tests under every build type of the flavor.",
			Tags:        []string{"source-sets", "flavors"},
			Applies: func(v variant.Variant) bool {
				return v.Flavor != "" && v.BuildType == ""
			},
			Plan: func(s Setup) Plan {
				v := s.Variant
				srcs := []scaffold.Source{
					{Language: v.Language},
					{Language: v.Language, Flavor: v.Flavor},
				}
				return Plan{
					Declarations: standardDeclarations(s, []string{v.Flavor}, scaffold.JUnit5Options{}, srcs...),
					Invocations:  []Invocation{fullBuildRun(srcs, v.Flavor, s.BuildTypes)},
				}
			},
		},
		{
			Name:        "flavor-build-type-source-set",
			Description: "Executes tests of a flavor and build type together with their build type and default tests.",
			Tags:        []string{"source-sets", "flavors"},
			Applies:     qualified,
			Plan: func(s Setup) Plan {
				v := s.Variant
				srcs := []scaffold.Source{
					{Language: v.Language},
					{Language: v.Language, BuildType: v.BuildType},
					{Language: v.Language, Flavor: v.Flavor, BuildType: v.BuildType},
				}
				for _, bt := range s.BuildTypes {
					if bt != v.BuildType {
						srcs = append(srcs, scaffold.Source{Language: v.Language, BuildType: bt})
					}
				}
				var runs []Invocation
				for _, bt := range s.BuildTypes {
					runs = append(runs, unitTestRun(srcs, v.Flavor, bt))
				}
				return Plan{
					Declarations: standardDeclarations(s, []string{v.Flavor}, scaffold.JUnit5Options{}, srcs...),
					Invocations:  runs,
				}
			},
		},
		{
			Name:        "flavor-inheritance-chain",
			Description: "Executes default, flavor, build type and combined tests in the most specific unit test task.",
			Tags:        []string{"source-sets", "flavors"},
			Applies:     qualified,
			Plan: func(s Setup) Plan {
				v := s.Variant
				srcs := []scaffold.Source{
					{Language: v.Language},
					{Language: v.Language, Flavor: v.Flavor},
					{Language: v.Language, BuildType: v.BuildType},
					{Language: v.Language, Flavor: v.Flavor, BuildType: v.BuildType},
				}
				var runs []Invocation
				for _, bt := range s.BuildTypes {
					runs = append(runs, unitTestRun(srcs, v.Flavor, bt))
				}
				return Plan{
					Declarations: standardDeclarations(s, []string{v.Flavor}, scaffold.JUnit5Options{}, srcs...),
					Invocations:  runs,
				}
			},
		},
		androidOptionScenario(
			"return-default-values",
			"Android framework stubs return default values instead of throwing.",
			`unitTests {
    returnDefaultValues = true
  }`,
			returnDefaultValuesTest,
		),
		androidOptionScenario(
			"include-android-resources",
			"Android resources are visible to unit tests.",
			`unitTests {
    includeAndroidResources = true
  }`,
			includeAndroidResourcesTest,
		),
	}
}

// LookupScenario finds a built-in scenario by name.
func LookupScenario(name string) (Scenario, bool) {
	for _, s := range Scenarios() {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

// SelectScenarios narrows the built-in scenarios to the given names, then to
// those carrying at least one of tags. Empty filters select everything.
func SelectScenarios(names, tags []string) ([]Scenario, error) {
	all := Scenarios()
	selected := all
	if len(names) > 0 {
		selected = nil
		for _, s := range all {
			if slices.Contains(names, s.Name) {
				selected = append(selected, s)
			}
		}
		for _, name := range names {
			if _, ok := LookupScenario(name); !ok {
				return nil, fault.Newf(fault.Configuration, "select scenarios", "unknown scenario %q", name)
			}
		}
	}
	if len(tags) > 0 {
		selected = slices.DeleteFunc(slices.Clone(selected), func(s Scenario) bool {
			return !slices.ContainsFunc(tags, s.HasTag)
		})
	}
	if len(selected) == 0 {
		return nil, fault.Newf(fault.Configuration, "select scenarios", "no scenario matches names %v and tags %v", names, tags)
	}
	return selected, nil
}

func unqualified(v variant.Variant) bool {
	return v.Flavor == "" && v.BuildType == ""
}

func qualified(v variant.Variant) bool {
	return v.Flavor != "" && v.BuildType != ""
}

// androidTestClass is the class declared by the Android option scenarios.
const androidTestClass = "AndroidTest"

func androidOptionScenario(name, description, testOptions, content string) Scenario {
	return Scenario{
		Name:        name,
		Description: description,
		Tags:        []string{"test-options"},
		Applies: func(v variant.Variant) bool {
			return v.Language.Name == variant.Java.Name && unqualified(v)
		},
		Plan: func(s Setup) Plan {
			srcs := []scaffold.Source{{Language: s.Variant.Language, Content: content}}
			task := variant.UnitTestTask("", "debug")
			return Plan{
				Declarations: standardDeclarations(s, nil, scaffold.JUnit5Options{TestOptionsConfig: testOptions}, srcs...),
				Invocations: []Invocation{{
					Tasks: []string{task},
					Expect: []expect.Expectation{
						expect.TaskSucceeded(task),
						expect.TestExecuted(androidTestClass, 1),
					},
				}},
			}
		},
	}
}

const returnDefaultValuesTest = `package __PACKAGE__;

import static org.junit.jupiter.api.Assertions.assertNull;

import org.junit.jupiter.api.Test;
import android.content.Intent;

class AndroidTest {
  @Test
  void test() {
    Intent intent = new Intent();
    assertNull(intent.getAction());
  }
}
`

const includeAndroidResourcesTest = `package __PACKAGE__;

import static org.junit.jupiter.api.Assertions.assertNotNull;

import org.junit.jupiter.api.Test;
import java.io.InputStream;

class AndroidTest {
  @Test
  void test() {
    InputStream is = getClass().getResourceAsStream("/com/android/tools/test_config.properties");
    assertNotNull(is);
  }
}
`
