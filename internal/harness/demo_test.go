package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioFiles runs every scenario under testdata/scenarios and
// compares each run with its golden snapshot. These cover the reference
// behaviors of the engine:
//  1. tier lookup and exact commission
//  2. exclusions before custom rules
//  3. boost impact
//  4. first credit level only
//  5. missing tiers are an error entry, not a failure
//  6. production writes once, source failures fail the run
func TestScenarioFiles(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err, "failed to load scenario from %s", path)
			assert.Equal(t, name, scenario.Name, "scenario name should match file name")
			assert.NotEmpty(t, scenario.Description)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario should pass, errors: %v", result.Errors)
		})
	}
}
