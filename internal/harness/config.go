package harness

import (
	"fmt"
	"runtime"
	"slices"
	"time"

	"github.com/google/shlex"

	"github.com/715d/variantmatrix/pkg/fault"
	"github.com/715d/variantmatrix/pkg/gradle"
	"github.com/715d/variantmatrix/pkg/scaffold"
	"github.com/715d/variantmatrix/pkg/variant"
)

// Config is the harness configuration file. It is read once at startup and
// not modified afterwards.
type Config struct {
	Matrix      MatrixConfig      `yaml:"matrix"`
	Environment EnvironmentConfig `yaml:"environment"`
	Gradle      GradleConfig      `yaml:"gradle"`
	Classpath   ClasspathConfig   `yaml:"classpath"`

	// Scenarios restricts the run to these scenario names. Empty runs all.
	Scenarios []string `yaml:"scenarios,omitempty"`

	// Jobs bounds how many scenarios run at once.
	Jobs int `yaml:"jobs,omitempty"`

	// WorkDir is where scenario projects are created. Empty uses a temp dir.
	WorkDir string `yaml:"work_dir,omitempty"`

	// KeepProjects leaves project trees on disk after the run.
	KeepProjects bool `yaml:"keep_projects,omitempty"`

	// Ledger is a sqlite database recording scenario outcomes. Empty disables it.
	Ledger string `yaml:"ledger,omitempty"`
}

// MatrixConfig lists the value set of every axis.
type MatrixConfig struct {
	Languages      []string `yaml:"languages"`
	GradleVersions []string `yaml:"gradle_versions"`
	Flavors        []string `yaml:"flavors"`
	BuildTypes     []string `yaml:"build_types"`
}

// EnvironmentConfig describes the SDK and the generated application.
type EnvironmentConfig struct {
	SDKDir            string `yaml:"sdk_dir"`
	CompileSDKVersion string `yaml:"compile_sdk_version"`
	BuildToolsVersion string `yaml:"build_tools_version"`
	MinSDKVersion     string `yaml:"min_sdk_version"`
	TargetSDKVersion  string `yaml:"target_sdk_version"`
	JVMArgs           string `yaml:"jvm_args"`
	Package           string `yaml:"package"`
	PluginID          string `yaml:"plugin_id"`
}

// GradleConfig controls build invocation.
type GradleConfig struct {
	Executable       string            `yaml:"executable"`
	Distributions    map[string]string `yaml:"distributions,omitempty"`
	DistributionsDir string            `yaml:"distributions_dir,omitempty"`
	Timeout          time.Duration     `yaml:"timeout"`
	ExtraArgs        string            `yaml:"extra_args,omitempty"`
	Daemon           bool              `yaml:"daemon,omitempty"`
	Online           bool              `yaml:"online,omitempty"`
	Env              []string          `yaml:"env,omitempty"`
}

// ClasspathConfig points at newline-delimited classpath manifests.
type ClasspathConfig struct {
	Plugin      string `yaml:"plugin"`
	TestCompile string `yaml:"test_compile"`
}

// Default values applied to missing configuration.
const (
	DefaultCompileSDKVersion = "android-28"
	DefaultBuildToolsVersion = "28.0.3"
	DefaultMinSDKVersion     = "14"
	DefaultTargetSDKVersion  = "28"
	DefaultJVMArgs           = "-Xmx1024m -XX:+HeapDumpOnOutOfMemoryError"
	DefaultTimeout           = 10 * time.Minute
)

func (c *Config) applyDefaults() {
	if len(c.Matrix.Flavors) == 0 {
		c.Matrix.Flavors = []string{""}
	}
	if len(c.Matrix.BuildTypes) == 0 {
		c.Matrix.BuildTypes = []string{""}
	}
	if len(c.Matrix.GradleVersions) == 0 {
		c.Matrix.GradleVersions = []string{""}
	}
	if len(c.Matrix.Languages) == 0 {
		c.Matrix.Languages = variant.LanguageNames()
	}

	env := &c.Environment
	if env.CompileSDKVersion == "" {
		env.CompileSDKVersion = DefaultCompileSDKVersion
	}
	if env.BuildToolsVersion == "" {
		env.BuildToolsVersion = DefaultBuildToolsVersion
	}
	if env.MinSDKVersion == "" {
		env.MinSDKVersion = DefaultMinSDKVersion
	}
	if env.TargetSDKVersion == "" {
		env.TargetSDKVersion = DefaultTargetSDKVersion
	}
	if env.JVMArgs == "" {
		env.JVMArgs = DefaultJVMArgs
	}
	if env.Package == "" {
		env.Package = scaffold.DefaultPackage
	}
	if env.PluginID == "" {
		env.PluginID = scaffold.DefaultPluginID
	}

	if c.Gradle.Executable == "" {
		c.Gradle.Executable = "gradle"
	}
	if c.Gradle.Timeout == 0 {
		c.Gradle.Timeout = DefaultTimeout
	}
	if c.Jobs <= 0 {
		c.Jobs = runtime.NumCPU()
	}
}

// Validate reports configuration errors that would make every scenario fail.
func (c *Config) Validate() error {
	if c.Environment.SDKDir == "" {
		return fault.Newf(fault.Configuration, "validate config", "environment.sdk_dir is required")
	}
	if c.Classpath.Plugin == "" || c.Classpath.TestCompile == "" {
		return fault.Newf(fault.Configuration, "validate config", "classpath.plugin and classpath.test_compile are required")
	}
	if _, err := shlex.Split(c.Gradle.ExtraArgs); err != nil {
		return fault.New(fault.Configuration, "validate config", fmt.Errorf("gradle.extra_args: %w", err))
	}
	for _, name := range c.Scenarios {
		if _, ok := LookupScenario(name); !ok {
			return fault.Newf(fault.Configuration, "validate config", "unknown scenario %q", name)
		}
	}
	_, err := c.Axes()
	return err
}

// Axes resolves the matrix section and checks it yields a valid cross product.
func (c *Config) Axes() (variant.Axes, error) {
	axes := variant.Axes{
		ToolVersions: slices.Clone(c.Matrix.GradleVersions),
		Flavors:      slices.Clone(c.Matrix.Flavors),
		BuildTypes:   slices.Clone(c.Matrix.BuildTypes),
	}
	for _, name := range c.Matrix.Languages {
		lang, err := variant.LookupLanguage(name)
		if err != nil {
			return variant.Axes{}, fault.New(fault.Configuration, "matrix", err)
		}
		axes.Languages = append(axes.Languages, lang)
	}
	if _, err := axes.CrossProduct(); err != nil {
		return variant.Axes{}, err
	}
	return axes, nil
}

// ScaffoldEnvironment combines the environment section with loaded classpaths.
func (c *Config) ScaffoldEnvironment(cp scaffold.Classpath) scaffold.Environment {
	return scaffold.Environment{
		SDKDir:            c.Environment.SDKDir,
		CompileSDKVersion: c.Environment.CompileSDKVersion,
		BuildToolsVersion: c.Environment.BuildToolsVersion,
		MinSDKVersion:     c.Environment.MinSDKVersion,
		TargetSDKVersion:  c.Environment.TargetSDKVersion,
		JVMArgs:           c.Environment.JVMArgs,
		Package:           c.Environment.Package,
		PluginID:          c.Environment.PluginID,
		Classpath:         cp,
	}
}

// InvokerOptions converts the gradle section.
func (c *Config) InvokerOptions() (gradle.Options, error) {
	extra, err := shlex.Split(c.Gradle.ExtraArgs)
	if err != nil {
		return gradle.Options{}, fault.New(fault.Configuration, "gradle options", err)
	}
	return gradle.Options{
		Executable:       c.Gradle.Executable,
		Distributions:    c.Gradle.Distributions,
		DistributionsDir: c.Gradle.DistributionsDir,
		Timeout:          c.Gradle.Timeout,
		ExtraArgs:        extra,
		Daemon:           c.Gradle.Daemon,
		Online:           c.Gradle.Online,
		Env:              c.Gradle.Env,
	}, nil
}
