package variant

import (
	"strings"

	"github.com/715d/variantmatrix/pkg/fault"
)

// Variant is one concrete combination of axis values.
type Variant struct {
	Language    Language
	ToolVersion string
	Flavor      string
	BuildType   string
}

// Key identifies the variant in reports and ledgers, e.g. "Kotlin/5.0/free/debug".
// Empty flavor or build type segments are written as "-".
func (v Variant) Key() string {
	return strings.Join([]string{v.Language.Name, orDash(v.ToolVersion), orDash(v.Flavor), orDash(v.BuildType)}, "/")
}

func (v Variant) String() string {
	return v.Key()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Axes holds the configured value set for every matrix dimension.
type Axes struct {
	ToolVersions []string
	Languages    []Language
	Flavors      []string
	BuildTypes   []string
}

// Size is the number of variants CrossProduct yields.
func (a Axes) Size() int {
	return len(a.ToolVersions) * len(a.Languages) * len(a.Flavors) * len(a.BuildTypes)
}

// CrossProduct yields every variant exactly once. Tool versions vary slowest,
// then languages, flavors and build types.
func (a Axes) CrossProduct() ([]Variant, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}

	variants := make([]Variant, 0, a.Size())
	for _, version := range a.ToolVersions {
		for _, lang := range a.Languages {
			for _, flavor := range a.Flavors {
				for _, buildType := range a.BuildTypes {
					variants = append(variants, Variant{
						Language:    lang,
						ToolVersion: version,
						Flavor:      flavor,
						BuildType:   buildType,
					})
				}
			}
		}
	}
	return variants, nil
}

func (a Axes) validate() error {
	for _, axis := range []struct {
		name   string
		size   int
		values []string
	}{
		{"tool versions", len(a.ToolVersions), a.ToolVersions},
		{"languages", len(a.Languages), nil},
		{"flavors", len(a.Flavors), a.Flavors},
		{"build types", len(a.BuildTypes), a.BuildTypes},
	} {
		if axis.size == 0 {
			return fault.Newf(fault.Configuration, "cross product", "axis %q has no values", axis.name)
		}
		values := make(map[string]struct{}, len(axis.values))
		for _, v := range axis.values {
			if _, dup := values[v]; dup {
				return fault.Newf(fault.Configuration, "cross product", "axis %q lists %q twice", axis.name, v)
			}
			values[v] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(a.Languages))
	for _, lang := range a.Languages {
		if lang.Name == "" || lang.Extension == "" || lang.SourceDir == "" {
			return fault.Newf(fault.Configuration, "cross product", "language %q is incomplete", lang.Name)
		}
		if _, dup := seen[lang.Name]; dup {
			return fault.Newf(fault.Configuration, "cross product", "language %q listed twice", lang.Name)
		}
		seen[lang.Name] = struct{}{}
	}

	return CheckNames(a.Flavors, a.BuildTypes)
}
