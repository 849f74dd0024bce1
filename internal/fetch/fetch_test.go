package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fecingest/internal/config"
	"fecingest/internal/envelope"
	"fecingest/internal/schema"
	"fecingest/internal/services"
	"fecingest/internal/workspace"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fixture struct {
	env      envelope.Envelope
	paths    workspace.Paths
	registry *schema.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	schemaDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "cm.csv"),
		[]byte("attribute\nCMTE_ID\nCMTE_NM\nCMTE_ST\n"), 0o644))
	env := envelope.FromRawMap(map[string]any{
		"name":      "cm",
		"fec_code":  "cm",
		"cycle":     "2024",
		"run_date":  "2024-03-01",
		"extension": ".txt",
		"temp_dir":  t.TempDir(),
	})
	paths := workspace.Derive(env)
	require.NoError(t, workspace.Setup(paths))
	return fixture{env: env, paths: paths, registry: schema.NewRegistry(schemaDir)}
}

func TestSourceURL(t *testing.T) {
	got, err := SourceURL("https://www.fec.gov/files/bulk-downloads/", "2024", "indiv", "24")
	require.NoError(t, err)
	assert.Equal(t, "https://www.fec.gov/files/bulk-downloads/2024/indiv24.zip", got)

	_, err = SourceURL(" ", "2024", "indiv", "24")
	assert.Error(t, err)
}

func TestFetcherRunProducesOutputArtifact(t *testing.T) {
	fx := newFixture(t)
	payload := buildZip(t, map[string]string{
		"cm.txt": "C001|\"Friends of Bob\"|CA\nC002|O'Neil,|NY\nC003|Short\n",
	})
	var gotPath, gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotUA.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := New(Options{BaseURL: srv.URL, UserAgent: "fecingest/test", Timeout: 5 * time.Second}, fx.registry, srv.Client(), nil)
	artifact, err := f.Run(context.Background(), fx.env, fx.paths)
	require.NoError(t, err)

	assert.Equal(t, fx.paths.OutputArtifactPath(), artifact)
	assert.Equal(t, "/2024/cm24.zip", gotPath.Load())
	assert.Equal(t, "fecingest/test", gotUA.Load())

	out, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Equal(t, "CMTE_ID,CMTE_NM,CMTE_ST\nC001,Friends of Bob,CA\nC002,ONeil,NY\nC003,Short,\n", string(out))

	cleaned, err := os.ReadFile(fx.paths.CleanedArtifactPath)
	require.NoError(t, err)
	assert.NotContains(t, string(cleaned), `"`)

	_, err = os.Stat(filepath.Join(fx.paths.DataDir, "cm_2024.zip"))
	assert.True(t, os.IsNotExist(err), "archive should be removed after extraction")
}

func TestFetcherDropPolicy(t *testing.T) {
	fx := newFixture(t)
	payload := buildZip(t, map[string]string{"cm.txt": "C001|A|CA\nC002|B\nC003|C|NY|extra\n"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := New(Options{BaseURL: srv.URL, MalformedRows: config.MalformedRowsDrop}, fx.registry, srv.Client(), nil)
	artifact, err := f.Run(context.Background(), fx.env, fx.paths)
	require.NoError(t, err)
	out, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Equal(t, "CMTE_ID,CMTE_NM,CMTE_ST\nC001,A,CA\n", string(out))
}

func TestFetcherFailures(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		fx := newFixture(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "not here", http.StatusNotFound)
		}))
		defer srv.Close()
		_, err := New(Options{BaseURL: srv.URL}, fx.registry, srv.Client(), nil).Run(context.Background(), fx.env, fx.paths)
		require.Error(t, err)
		assert.True(t, errors.Is(err, services.ErrTransform))
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("missing schema", func(t *testing.T) {
		fx := newFixture(t)
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
		}))
		defer srv.Close()
		env := fx.env.With(envelope.KeyName, "unknown")
		_, err := New(Options{BaseURL: srv.URL}, fx.registry, srv.Client(), nil).Run(context.Background(), env, workspace.Derive(env))
		assert.ErrorIs(t, err, services.ErrTransform)
		assert.ErrorIs(t, err, schema.ErrNotFound)
		assert.Zero(t, hits.Load())
	})

	t.Run("two files in archive", func(t *testing.T) {
		fx := newFixture(t)
		payload := buildZip(t, map[string]string{"a.txt": "x", "b.txt": "y"})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(payload)
		}))
		defer srv.Close()
		_, err := New(Options{BaseURL: srv.URL}, fx.registry, srv.Client(), nil).Run(context.Background(), fx.env, fx.paths)
		assert.ErrorIs(t, err, services.ErrTransform)
	})

	t.Run("missing envelope fields", func(t *testing.T) {
		fx := newFixture(t)
		env := fx.env.With(envelope.KeyFECCode, "")
		_, err := New(Options{BaseURL: "http://127.0.0.1:1"}, fx.registry, nil, nil).Run(context.Background(), env, fx.paths)
		assert.ErrorIs(t, err, services.ErrTransform)
	})
}

func TestExtractSingleRejectsEscapes(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(zipPath, buildZip(t, map[string]string{"../evil.txt": "x"}), 0o644))
	_, err := extractSingle(zipPath, filepath.Join(dir, "data"))
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractSingleEmptyArchive(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "empty.zip")
	require.NoError(t, os.WriteFile(zipPath, buildZip(t, map[string]string{}), 0o644))
	_, err := extractSingle(zipPath, dir)
	assert.Error(t, err)
}

func TestCleanString(t *testing.T) {
	cases := []struct {
		name, in, encoding, want string
	}{
		{"collapse", "a,|b,|c", config.EncodingUTF8, "a|b|c"},
		{"strip quotes", `"a"|'b'`, config.EncodingUTF8, "a|b"},
		{"collapse before strip", `a,"|b`, config.EncodingUTF8, "a,|b"},
		{"comma kept", "a,b|c", config.EncodingUTF8, "a,b|c"},
		{"trailing comma", "a,", config.EncodingUTF8, "a,"},
		{"latin1", "caf\xe9|x", config.EncodingLatin1, "café|x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CleanString(tc.in, tc.encoding)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := CleanString("x", "ebcdic")
	assert.Error(t, err)
}

func TestCleanFileAcrossBufferBoundaries(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "raw.txt")
	dst := filepath.Join(dir, "clean.txt")
	line := strings.Repeat("x", 4095) + ",|y\n"
	require.NoError(t, os.WriteFile(src, []byte(strings.Repeat(line, 8)), 0o644))

	_, err := CleanFile(src, dst, config.EncodingUTF8)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat(strings.Repeat("x", 4095)+"|y\n", 8), string(got))
}

func TestMapToSchemaRejectsUnknownPolicy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("a|b\n"), 0o644))
	sch, err := schema.ParseCSV(strings.NewReader("attribute\nA\nB\n"))
	require.NoError(t, err)
	_, err = MapToSchema(src, filepath.Join(dir, "out.csv"), sch, "explode")
	assert.Error(t, err)

	stats, err := MapToSchema(src, filepath.Join(dir, "out.csv"), sch, config.MalformedRowsPass)
	require.NoError(t, err)
	assert.Equal(t, MapStats{Rows: 1}, stats)
}

func TestMapToSchemaUsesSparsePositions(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	dst := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(src, []byte("C001|IGNORED|250\nC002|X\n"), 0o644))
	sch, err := schema.ParseYAML(strings.NewReader("columns:\n  - name: CMTE_ID\n    position: 1\n  - name: AMT\n    position: 3\n"))
	require.NoError(t, err)

	stats, err := MapToSchema(src, dst, sch, config.MalformedRowsPass)
	require.NoError(t, err)
	assert.Equal(t, MapStats{Rows: 2, Malformed: 1}, stats)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "CMTE_ID,AMT\nC001,250\nC002,\n", string(got))
}
