package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lazuer/tabulate-analysis-core/internal/logger"
)

func TestSplitMarkedOutputSeparatesResultAndError(t *testing.T) {
	combined := "loading rows\ncomputed mean\n" + resultMarker + "42.5\n"
	stdout, stderr, final := splitMarkedOutput(combined)
	require.Equal(t, "loading rows\ncomputed mean", stdout)
	require.Empty(t, stderr)
	require.Equal(t, "42.5", final)
}

func TestSplitMarkedOutputCapturesCaughtException(t *testing.T) {
	combined := "reading file\n" + errorMarker + "KeyError: 'total'\n"
	stdout, stderr, final := splitMarkedOutput(combined)
	require.Equal(t, "reading file", stdout)
	require.Equal(t, "KeyError: 'total'", stderr)
	require.Empty(t, final)
}

func TestSplitMarkedOutputWithNeitherMarker(t *testing.T) {
	stdout, stderr, final := splitMarkedOutput("plain output\nno markers here")
	require.Equal(t, "plain output\nno markers here", stdout)
	require.Empty(t, stderr)
	require.Empty(t, final)
}

// TestExecuteRunsPythonInContainer exercises the real container lifecycle
// against a Docker daemon, bringing up and tearing down a disposable
// container per run. Skipped unless explicitly opted in, since CI for this
// module may not have a Docker socket available.
func TestExecuteRunsPythonInContainer(t *testing.T) {
	if os.Getenv("SANDBOX_INTEGRATION_TESTS") == "" {
		t.Skip("set SANDBOX_INTEGRATION_TESTS=1 to run sandbox container tests")
	}

	log, err := logger.New("test")
	require.NoError(t, err)
	exec := NewContainerExecutor(log, t.TempDir())

	result, err := exec.Execute(context.Background(), "python", `print("__RESULT__:"+str(21*2))`)
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	require.Equal(t, "42", result.FinalValue)
}

// TestExecuteReadsMountedDataFile proves the bind mount actually works:
// generated code loads a CSV written to DataDir through the loader shim
// and reports back a value computed from its contents.
func TestExecuteReadsMountedDataFile(t *testing.T) {
	if os.Getenv("SANDBOX_INTEGRATION_TESTS") == "" {
		t.Skip("set SANDBOX_INTEGRATION_TESTS=1 to run sandbox container tests")
	}

	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "prices.csv"), []byte("price\n10\n20\n30\n"), 0o644))

	log, err := logger.New("test")
	require.NoError(t, err)
	exec := NewContainerExecutor(log, dataDir)

	source := `
from tabular_loader import load_frame
df = load_frame("prices.csv")
print("__RESULT__:"+str(int(df["price"].sum())))
`
	result, err := exec.Execute(context.Background(), "python", source)
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	require.Equal(t, "60", result.FinalValue)
}

func TestExecuteRejectsUnsupportedLanguage(t *testing.T) {
	log, err := logger.New("test")
	require.NoError(t, err)
	exec := NewContainerExecutor(log, t.TempDir())

	_, err = exec.Execute(context.Background(), "cobol", "DISPLAY 'HELLO'.")
	require.ErrorIs(t, err, ErrUnsupportedLanguage)
}
