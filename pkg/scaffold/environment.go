package scaffold

import (
	"strings"
)

// DefaultPackage is the application package used when none is configured.
const DefaultPackage = "de.mannodermaus.app"

// DefaultPluginID is the id of the plugin under test.
const DefaultPluginID = "de.mannodermaus.android-junit5"

// Environment is the tooling configuration shared read-only by every project.
type Environment struct {
	SDKDir            string
	CompileSDKVersion string
	BuildToolsVersion string
	MinSDKVersion     string
	TargetSDKVersion  string
	JVMArgs           string
	Package           string
	PluginID          string
	Classpath         Classpath
}

// Classpath holds the pre-resolved file lists handed to every build.
type Classpath struct {
	// Plugin is the runtime classpath of the plugin under test.
	Plugin []string

	// TestCompile is everything test sources compile and run against.
	TestCompile []string
}

// PackagePath returns the package as a slash separated path.
func (e Environment) PackagePath() string {
	return strings.ReplaceAll(e.Package, ".", "/")
}

// SplitClasspath renders files as the quoted argument list of a Gradle
// files(...) call.
func SplitClasspath(files []string) string {
	quoted := make([]string, len(files))
	for i, f := range files {
		f = strings.ReplaceAll(f, `\`, `\\`)
		f = strings.ReplaceAll(f, `'`, `\'`)
		quoted[i] = "'" + f + "'"
	}
	return strings.Join(quoted, ", ")
}
