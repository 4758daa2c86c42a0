package harness

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/715d/variantmatrix/pkg/fault"
	"github.com/715d/variantmatrix/pkg/scaffold"
)

// LoadConfig reads, expands, defaults and validates a configuration file.
// Relative paths in the file are resolved against its directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.New(fault.Configuration, "load config", err)
	}
	cfg, err := ParseConfig(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig is LoadConfig for in-memory YAML.
func ParseConfig(data []byte, baseDir string) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fault.New(fault.Configuration, "parse config", err)
	}

	for _, p := range []*string{
		&cfg.Environment.SDKDir,
		&cfg.Classpath.Plugin,
		&cfg.Classpath.TestCompile,
		&cfg.Gradle.DistributionsDir,
		&cfg.WorkDir,
		&cfg.Ledger,
	} {
		expanded, err := resolvePath(*p, baseDir)
		if err != nil {
			return nil, fault.New(fault.Configuration, "parse config", err)
		}
		*p = expanded
	}
	for version, exe := range cfg.Gradle.Distributions {
		expanded, err := resolvePath(exe, baseDir)
		if err != nil {
			return nil, fault.New(fault.Configuration, "parse config", err)
		}
		cfg.Gradle.Distributions[version] = expanded
	}
	cfg.Gradle.Executable = ExpandEnvVars(cfg.Gradle.Executable)
	cfg.Environment.JVMArgs = ExpandEnvVars(cfg.Environment.JVMArgs)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClasspath reads both classpath manifests. A missing manifest is a
// configuration error.
func LoadClasspath(cfg *Config) (scaffold.Classpath, error) {
	plugin, err := LoadClasspathManifest(cfg.Classpath.Plugin)
	if err != nil {
		return scaffold.Classpath{}, err
	}
	testCompile, err := LoadClasspathManifest(cfg.Classpath.TestCompile)
	if err != nil {
		return scaffold.Classpath{}, err
	}
	return scaffold.Classpath{Plugin: plugin, TestCompile: testCompile}, nil
}

// LoadClasspathManifest reads one path per line, skipping blank lines.
func LoadClasspathManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.New(fault.Configuration, "load classpath manifest", fmt.Errorf("did not find required manifest: %w", err))
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fault.New(fault.Configuration, "load classpath manifest", err)
	}
	return entries, nil
}

// envVarPattern matches ${VAR} or ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "~" {
		return os.UserHomeDir()
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return home + path[1:], nil
	}
	return path, nil
}

// ExpandEnvVars expands ${VAR} and ${VAR:-default}. Unset variables without a
// default expand to an empty string.
func ExpandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if before, def, ok := strings.Cut(name, ":-"); ok {
			if val, ok := os.LookupEnv(before); ok {
				return val
			}
			return def
		}
		return os.Getenv(name)
	})
}

func resolvePath(path, baseDir string) (string, error) {
	if path == "" || path == ":memory:" {
		return path, nil
	}
	expanded, err := ExpandPath(ExpandEnvVars(path))
	if err != nil {
		return "", err
	}
	if expanded == "" || filepath.IsAbs(expanded) || baseDir == "" {
		return expanded, nil
	}
	return filepath.Join(baseDir, expanded), nil
}
