package variant

import (
	"path/filepath"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/variantmatrix/pkg/fault"
)

// Identity holds the names derived from a variant.
type Identity struct {
	// VariantName is Title(flavor) + Title(buildType), empty for the default variant.
	VariantName string

	// TestClassName is language tag + VariantName + "Test".
	TestClassName string

	// SourceSetName is "test" + VariantName.
	SourceSetName string

	// SourceDir is the language's directory segment.
	SourceDir string

	// FileName is TestClassName with the language extension.
	FileName string
}

// SourcePath is where the variant's test class lives below root for the given
// dotted package name.
func (id Identity) SourcePath(root, pkg string) string {
	parts := []string{root, "src", id.SourceSetName, id.SourceDir}
	if pkg != "" {
		parts = append(parts, strings.Split(pkg, ".")...)
	}
	return filepath.Join(append(parts, id.FileName)...)
}

// IsDefault reports whether this is the unqualified "test" source set.
func (id Identity) IsDefault() bool {
	return id.VariantName == ""
}

// Title upper-cases the first ASCII letter of s and leaves the rest alone.
func Title(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}

// VariantName combines a flavor and a build type the way the host build does.
func VariantName(flavor, buildType string) string {
	return Title(flavor) + Title(buildType)
}

// UnitTestTask is the unit test task name for a flavor and build type,
// e.g. "testFreeDebugUnitTest".
func UnitTestTask(flavor, buildType string) string {
	return "test" + VariantName(flavor, buildType) + "UnitTest"
}

// TaskPath returns the root-project path of a task name.
func TaskPath(task string) string {
	if strings.HasPrefix(task, ":") {
		return task
	}
	return ":" + task
}

// Resolve computes the identity of a variant. The tool version never takes part.
func Resolve(lang Language, flavor, buildType string) Identity {
	name := VariantName(flavor, buildType)
	className := lang.Name + name + "Test"
	return Identity{
		VariantName:   name,
		TestClassName: className,
		SourceSetName: "test" + name,
		SourceDir:     lang.SourceDir,
		FileName:      lang.FileName(className),
	}
}

// CheckNames reports a configuration error when two distinct flavor and build
// type pairs produce the same variant name.
func CheckNames(flavors, buildTypes []string) error {
	owners := make(map[string][2]string)
	for _, flavor := range flavors {
		for _, buildType := range buildTypes {
			pair := [2]string{flavor, buildType}
			name := VariantName(flavor, buildType)
			if prev, ok := owners[name]; ok && prev != pair {
				return fault.Newf(fault.Configuration, "naming",
					"flavor %q with build type %q collides with flavor %q with build type %q as %q",
					flavor, buildType, prev[0], prev[1], name)
			}
			owners[name] = pair
		}
	}
	return nil
}

type identityKey struct {
	language  string
	flavor    string
	buildType string
}

// Resolver memoizes identities so concurrent scenarios share the computed names.
type Resolver struct {
	cache *xsync.Map[identityKey, Identity]
}

func NewResolver() *Resolver {
	return &Resolver{cache: xsync.NewMap[identityKey, Identity]()}
}

// Identity returns the identity of v, computing it at most once per
// language, flavor and build type.
func (r *Resolver) Identity(v Variant) Identity {
	return r.Lookup(v.Language, v.Flavor, v.BuildType)
}

// Lookup is Identity for an explicit language, flavor and build type.
func (r *Resolver) Lookup(lang Language, flavor, buildType string) Identity {
	key := identityKey{language: lang.Name, flavor: flavor, buildType: buildType}
	id, _ := r.cache.LoadOrCompute(key, func() (Identity, bool) {
		return Resolve(lang, flavor, buildType), false
	})
	return id
}

// Len is the number of cached identities.
func (r *Resolver) Len() int {
	return r.cache.Size()
}

// SourceSetApplies reports whether tests declared for setFlavor and
// setBuildType run in the unit test task of flavor and buildType. The default
// source set applies everywhere; qualified ones only where they match.
func SourceSetApplies(setFlavor, setBuildType, flavor, buildType string) bool {
	return (setFlavor == "" || setFlavor == flavor) && (setBuildType == "" || setBuildType == buildType)
}
