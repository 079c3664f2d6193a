package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apex-guard/internal/security"
)

const sqlSource = "const q = `SELECT * FROM users WHERE id = ${id}`;"

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "DB_DRIVER", "RULES_FILE", "CLASSIFIER", "INTEL_FEED_URL", "ENVIRONMENT"} {
		t.Setenv(k, "")
	}
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScanJSON(t *testing.T) {
	root := writeTree(t, map[string]string{
		"query.js": sqlSource,
		"clean.js": "app.use(helmet());\nexport const add = (a, b) => a + b;",
	})

	out, err := runCLI(t, "scan", "--format", "json", root)
	require.NoError(t, err)

	var res security.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Summary.TotalFiles)
	assert.Equal(t, 2, res.Summary.ScannedFiles)
	require.Len(t, res.PerFile, 2)

	assert.Equal(t, filepath.ToSlash(filepath.Join(root, "clean.js")), res.PerFile[0].FilePath)
	clean, q := res.PerFile[0].Result, res.PerFile[1].Result
	require.NotNil(t, clean)
	require.NotNil(t, q)
	assert.Empty(t, clean.Findings)
	assert.NotEmpty(t, q.Findings)
	assert.Less(t, q.SecurityScore, clean.SecurityScore)
}

func TestScanTable(t *testing.T) {
	root := writeTree(t, map[string]string{"query.js": sqlSource})

	out, err := runCLI(t, "scan", root)
	require.NoError(t, err)
	assert.Contains(t, out, "query.js")
	assert.Contains(t, out, "1/1 files scanned")
}

func TestScanFailUnder(t *testing.T) {
	root := writeTree(t, map[string]string{"query.js": sqlSource})
	_, err := runCLI(t, "scan", "--fail-under", "90", "--format", "json", root)

	var below *scoreBelowError
	require.True(t, errors.As(err, &below), "got %v", err)
	assert.Equal(t, 90, below.threshold)
	assert.Len(t, below.files, 1)
}

func TestScanUnreadableFileIsReported(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read any file")
	}
	root := writeTree(t, map[string]string{"ok.js": "let a = 1", "locked.js": "let b = 2"})
	require.NoError(t, os.Chmod(filepath.Join(root, "locked.js"), 0))

	out, err := runCLI(t, "scan", "--format", "json", root)
	require.NoError(t, err)

	var res security.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Summary.TotalFiles)
	assert.Equal(t, 1, res.Summary.ScannedFiles)
}

func TestScanErrors(t *testing.T) {
	empty := t.TempDir()

	_, err := runCLI(t, "scan", empty)
	assert.EqualError(t, err, "no source files matched")

	_, err = runCLI(t, "scan", "--format", "xml", empty)
	assert.EqualError(t, err, `unknown format "xml"`)

	_, err = runCLI(t, "scan")
	assert.Error(t, err)
}

func TestRulesCommand(t *testing.T) {
	out, err := runCLI(t, "rules", "--json")
	require.NoError(t, err)

	var infos []security.RuleInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	assert.NotEmpty(t, infos)

	table, err := runCLI(t, "rules")
	require.NoError(t, err)
	assert.Contains(t, table, infos[0].Name)
}

func TestMigrateRequiresPostgres(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"migrate", "version"})
	cmd.SetOut(&out)
	err := cmd.ExecuteContext(context.Background())
	assert.EqualError(t, err, "migrate only supports the postgres driver")
}
