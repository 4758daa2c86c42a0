package variant

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/variantmatrix/pkg/fault"
)

func TestCrossProduct(t *testing.T) {
	axes := Axes{
		ToolVersions: []string{"4.7", "5.0"},
		Languages:    []Language{Java, Kotlin},
		Flavors:      []string{"", "free"},
		BuildTypes:   []string{"debug", "release"},
	}

	variants, err := axes.CrossProduct()
	require.NoError(t, err)
	require.Len(t, variants, 16)
	require.Equal(t, axes.Size(), len(variants))

	seen := make(map[string]bool)
	for _, v := range variants {
		require.False(t, seen[v.Key()], "duplicate variant %s", v.Key())
		seen[v.Key()] = true
	}

	// Tool versions vary slowest, build types fastest.
	require.Equal(t, "Java/4.7/-/debug", variants[0].Key())
	require.Equal(t, "Java/4.7/-/release", variants[1].Key())
	require.Equal(t, "Java/4.7/free/debug", variants[2].Key())
	require.Equal(t, "Kotlin/4.7/-/debug", variants[4].Key())
	require.Equal(t, "Java/5.0/-/debug", variants[8].Key())
}

func TestCrossProductIsReproducible(t *testing.T) {
	axes := Axes{
		ToolVersions: []string{"5.0", "4.7"},
		Languages:    []Language{Kotlin, Java},
		Flavors:      []string{"free", "paid"},
		BuildTypes:   []string{""},
	}
	first, err := axes.CrossProduct()
	require.NoError(t, err)
	second, err := axes.CrossProduct()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCrossProductSingleValueAxes(t *testing.T) {
	axes := Axes{
		ToolVersions: []string{"5.0"},
		Languages:    []Language{Java},
		Flavors:      []string{""},
		BuildTypes:   []string{""},
	}
	variants, err := axes.CrossProduct()
	require.NoError(t, err)
	require.Equal(t, []Variant{{Language: Java, ToolVersion: "5.0"}}, variants)
}

func TestCrossProductErrors(t *testing.T) {
	valid := Axes{
		ToolVersions: []string{"5.0"},
		Languages:    []Language{Java},
		Flavors:      []string{""},
		BuildTypes:   []string{"debug"},
	}

	tests := []struct {
		name   string
		mutate func(a *Axes)
		errMsg string
	}{
		{name: "no_versions", mutate: func(a *Axes) { a.ToolVersions = nil }, errMsg: `axis "tool versions" has no values`},
		{name: "no_languages", mutate: func(a *Axes) { a.Languages = nil }, errMsg: `axis "languages" has no values`},
		{name: "no_flavors", mutate: func(a *Axes) { a.Flavors = []string{} }, errMsg: `axis "flavors" has no values`},
		{name: "no_build_types", mutate: func(a *Axes) { a.BuildTypes = nil }, errMsg: `axis "build types" has no values`},
		{name: "duplicate_language", mutate: func(a *Axes) { a.Languages = []Language{Java, Java} }, errMsg: `listed twice`},
		{name: "duplicate_version", mutate: func(a *Axes) { a.ToolVersions = []string{"5.0", "4.7", "5.0"} }, errMsg: `axis "tool versions" lists "5.0" twice`},
		{name: "duplicate_flavor", mutate: func(a *Axes) { a.Flavors = []string{"free", "free"} }, errMsg: `axis "flavors" lists "free" twice`},
		{name: "duplicate_unqualified_build_type", mutate: func(a *Axes) { a.BuildTypes = []string{"", "debug", ""} }, errMsg: `axis "build types" lists "" twice`},
		{name: "incomplete_language", mutate: func(a *Axes) { a.Languages = []Language{{Name: "Groovy"}} }, errMsg: `incomplete`},
		{
			name: "name_collision",
			mutate: func(a *Axes) {
				a.Flavors = []string{"free", "freeDebug"}
				a.BuildTypes = []string{"", "debug"}
			},
			errMsg: `collides`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			axes := valid
			tt.mutate(&axes)
			_, err := axes.CrossProduct()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
			require.True(t, fault.Is(err, fault.Configuration))
		})
	}
}
