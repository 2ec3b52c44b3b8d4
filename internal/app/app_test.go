package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"attendance-import/internal/config"
	"attendance-import/internal/server"
	"attendance-import/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lessonsCSV = `Customer ID,Full Name,Lesson ID,Lesson Date,Instructor,Location,Outcome
P1,Ada Lovelace,E1,2024-01-05,Sam Lee,Main Hall,attended
P2,Grace Hopper,E1,2024-01-05,Sam Lee,Main Hall,no show
`

// --- Test Helper Functions ---

func createTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// sqliteConfig writes a config pointing at a file-backed sqlite store in dir.
func sqliteConfig(t *testing.T, dir string) string {
	t.Helper()
	return createTempFile(t, dir, "config.yaml", `
logging:
  level: error
store:
  driver: sqlite
  dsn: `+filepath.Join(dir, "attendance.db")+`
`)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	runner := &AppRunner{out: &out}
	err := runner.Run(context.Background(), args)
	return out.String(), err
}

type fakeStore struct {
	store.Store
	migrated int
	closed   int
}

func (f *fakeStore) Migrate(context.Context) error {
	f.migrated++
	return nil
}

func (f *fakeStore) Close() error {
	f.closed++
	return nil
}

func TestImportThenExport(t *testing.T) {
	dir := t.TempDir()
	cfgPath := sqliteConfig(t, dir)
	input := createTempFile(t, dir, "lessons.csv", lessonsCSV)

	out, err := run(t, "--config", cfgPath, "import", input)
	require.NoError(t, err)
	assert.Contains(t, out, "Import completed: 2 rows processed.")

	exported := filepath.Join(dir, "out", "attendance.csv")
	out, err = run(t, "--config", cfgPath, "export", "--out", exported)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 2 records")

	f, err := os.Open(exported)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeaders, rows[0])
	assert.Equal(t, "P1", rows[1][0])
	assert.Equal(t, "2024-01-05T00:00:00Z", rows[1][5])
	assert.Equal(t, "no_show", rows[2][9])
}

func TestImportTwiceIsStable(t *testing.T) {
	dir := t.TempDir()
	cfgPath := sqliteConfig(t, dir)
	input := createTempFile(t, dir, "lessons.csv", lessonsCSV)

	for i := 0; i < 2; i++ {
		_, err := run(t, "--config", cfgPath, "import", input)
		require.NoError(t, err)
	}
	out, err := run(t, "--config", cfgPath, "export", "--out", filepath.Join(dir, "attendance.xlsx"))
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 2 records")
}

func TestImportStructuralFailure(t *testing.T) {
	dir := t.TempDir()
	cfgPath := sqliteConfig(t, dir)
	input := createTempFile(t, dir, "lessons.csv", "Customer ID,Full Name,Lesson ID,Instructor\nP1,Ada,E1,Sam Lee\n")

	out, err := run(t, "--config", cfgPath, "import", "--json", input)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrImportFailed))
	assert.Contains(t, out, `"missingHeaders"`)
	assert.Contains(t, out, "event_date")
}

func TestImportDryRunNeedsNoStore(t *testing.T) {
	dir := t.TempDir()
	cfgPath := createTempFile(t, dir, "config.yaml", "logging:\n  level: error\n")
	input := createTempFile(t, dir, "lessons.csv", lessonsCSV)

	orig := openStoreFunc
	openStoreFunc = func(context.Context, config.StoreConfig) (store.Store, error) {
		t.Fatal("dry run must not open the store")
		return nil, nil
	}
	t.Cleanup(func() { openStoreFunc = orig })

	out, err := run(t, "--config", cfgPath, "import", "--dry-run", input)
	require.NoError(t, err)
	assert.Contains(t, out, "2 rows processed")
}

func TestImportWritesRejectedRows(t *testing.T) {
	dir := t.TempDir()
	cfgPath := sqliteConfig(t, dir)
	input := createTempFile(t, dir, "lessons.csv", lessonsCSV+"P3,,E1,2024-01-05,Sam Lee,Main Hall,attended\n")
	errorsPath := filepath.Join(dir, "rejected.csv")

	out, err := run(t, "--config", cfgPath, "import", "--errors-file", errorsPath, input)
	require.NoError(t, err, "a partial import is not an error")
	assert.Contains(t, out, "Row 4: missing required value: person_name")

	content, err := os.ReadFile(errorsPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "4,"), lines[1])
}

func TestImportArgs(t *testing.T) {
	_, err := run(t, "import")
	assert.True(t, errors.Is(err, ErrMissingArgs), err)

	_, err = run(t, "import", "a.csv", "b.csv")
	assert.True(t, errors.Is(err, ErrMissingArgs), err)
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "migrate")
	assert.True(t, errors.Is(err, ErrConfigNotFound), err)
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	_, err := run(t, "import", "--no-such-flag", "a.csv")
	assert.True(t, errors.Is(err, ErrUsage), err)
}

func TestExportRequiresOut(t *testing.T) {
	cfgPath := sqliteConfig(t, t.TempDir())
	_, err := run(t, "--config", cfgPath, "export")
	assert.True(t, errors.Is(err, ErrMissingArgs), err)
}

func TestMigrateUsesConfiguredStore(t *testing.T) {
	fake := &fakeStore{}
	var got config.StoreConfig
	orig := openStoreFunc
	openStoreFunc = func(_ context.Context, cfg config.StoreConfig) (store.Store, error) {
		got = cfg
		return fake, nil
	}
	t.Cleanup(func() { openStoreFunc = orig })

	cfgPath := createTempFile(t, t.TempDir(), "config.yaml", "logging:\n  level: error\n")
	out, err := run(t, "--config", cfgPath, "--db", "postgres://u:p@localhost/attendance", "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema is up to date.")
	assert.Equal(t, "postgres://u:p@localhost/attendance", got.DSN)
	assert.Equal(t, config.StoreDriverPostgres, got.Driver)
	assert.Equal(t, 1, fake.migrated)
	assert.Equal(t, 1, fake.closed)
}

func TestServeWiresServer(t *testing.T) {
	dir := t.TempDir()
	cfgPath := sqliteConfig(t, dir)

	var handler http.Handler
	orig := serveFunc
	serveFunc = func(_ context.Context, s *server.Server) error {
		handler = s.Handler()
		return nil
	}
	t.Cleanup(func() { serveFunc = orig })

	_, err := run(t, "--config", cfgPath, "serve")
	require.NoError(t, err)
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.DefaultMetricsPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenStoreRequiresDSN(t *testing.T) {
	_, err := openStore(context.Background(), config.StoreConfig{Driver: config.StoreDriverSQLite})
	assert.True(t, errors.Is(err, ErrMissingArgs), err)
}

func TestUsageListsCommands(t *testing.T) {
	var buf bytes.Buffer
	NewAppRunner().Usage(&buf)
	for _, name := range []string{"import", "serve", "migrate", "export", "--config", "--db"} {
		assert.Contains(t, buf.String(), name)
	}
}
