package harness

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/715d/variantmatrix/pkg/gradle"
	"github.com/715d/variantmatrix/pkg/variant"
)

var (
	flavorDecl    = regexp.MustCompile(`(?m)^\s+(\w+) \{ dimension "tier" \}`)
	buildTypeDecl = regexp.MustCompile(`(?m)^\s+(\w+) \{ initWith debug \}`)
	classDecl     = regexp.MustCompile(`\bclass (\w+)`)
)

// fakeGradle imitates the plain console output of an Android build. It reads
// the flavors and build types from the build file and runs every test class
// whose source set belongs to a requested unit test task.
type fakeGradle struct {
	// failClass makes tests of this class fail.
	failClass string

	// err is returned instead of running.
	err error

	// block waits for ctx to end.
	block bool

	mu    sync.Mutex
	calls []gradle.Command
}

func (f *fakeGradle) Execute(ctx context.Context, cmd gradle.Command) (gradle.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.err != nil {
		return gradle.Output{}, f.err
	}
	if f.block {
		<-ctx.Done()
		return gradle.Output{Text: "> Task :preBuild\n", ExitCode: -1}, ctx.Err()
	}

	build, err := os.ReadFile(filepath.Join(cmd.Dir, "build.gradle"))
	if err != nil {
		return gradle.Output{Text: "build file missing\n", ExitCode: 1}, nil
	}
	var flavors []string
	for _, m := range flavorDecl.FindAllStringSubmatch(string(build), -1) {
		flavors = append(flavors, m[1])
	}
	buildTypes := []string{"debug", "release"}
	for _, m := range buildTypeDecl.FindAllStringSubmatch(string(build), -1) {
		buildTypes = append(buildTypes, m[1])
	}
	if len(flavors) == 0 {
		flavors = []string{""}
	}

	classes, err := testClasses(filepath.Join(cmd.Dir, "src"))
	if err != nil {
		return gradle.Output{}, err
	}

	var out strings.Builder
	exit := 0
	runUnitTests := func(flavor, buildType string) {
		task := variant.UnitTestTask(flavor, buildType)
		sets := []string{"test", "test" + variant.Title(flavor), "test" + variant.Title(buildType), "test" + variant.VariantName(flavor, buildType)}
		failed := false
		var lines []string
		for set, names := range classes {
			if !slices.Contains(sets, set) {
				continue
			}
			for _, name := range names {
				status := "PASSED"
				if name == f.failClass {
					status = "FAILED"
					failed = true
				}
				lines = append(lines, fmt.Sprintf("de.mannodermaus.app.%s > test() %s", name, status))
			}
		}
		slices.Sort(lines)
		if failed {
			exit = 1
			fmt.Fprintf(&out, "> Task :%s FAILED\n", task)
		} else {
			fmt.Fprintf(&out, "> Task :%s\n", task)
		}
		for _, l := range lines {
			fmt.Fprintf(&out, "\n%s\n", l)
		}
	}

	for _, task := range cmd.Args {
		if strings.HasPrefix(task, "-") || strings.Contains(task, string(filepath.Separator)) {
			continue
		}
		if task == "build" {
			for _, flavor := range flavors {
				for _, bt := range buildTypes {
					runUnitTests(flavor, bt)
				}
			}
			if exit == 0 {
				out.WriteString("> Task :build\n")
			}
			continue
		}
		for _, flavor := range flavors {
			for _, bt := range buildTypes {
				if variant.UnitTestTask(flavor, bt) == task {
					runUnitTests(flavor, bt)
				}
			}
		}
	}

	if exit == 0 {
		out.WriteString("\nBUILD SUCCESSFUL in 1s\n")
	} else {
		out.WriteString("\nBUILD FAILED in 1s\n")
	}
	return gradle.Output{Text: out.String(), ExitCode: exit}, nil
}

func (f *fakeGradle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// testClasses maps source set names to the classes declared below them.
func testClasses(srcDir string) (map[string][]string, error) {
	classes := make(map[string][]string)
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		set, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		if !strings.HasPrefix(set, "test") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if m := classDecl.FindSubmatch(content); m != nil {
			classes[set] = append(classes[set], string(m[1]))
		}
		return nil
	})
	return classes, err
}
