package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hakim/readyscan/internal/config"
	"github.com/hakim/readyscan/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestLocalFiltersAndSorts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/b.py", []byte("print('b')\n"))
	writeFile(t, root, "a.tf", []byte("resource \"x\" \"y\" {}\n"))
	writeFile(t, root, "node_modules/lib/index.js", []byte("module.exports = 1\n"))
	writeFile(t, root, "logo.png", []byte("png"))
	writeFile(t, root, "blob.dat", []byte{0x01, 0x00, 0x02})
	writeFile(t, root, "big.txt", make([]byte, 64))

	opts := OptionsFromConfig(config.DefaultConfig().Scanners)
	opts.MaxFileSize = 32

	snap, err := Local(context.Background(), root, opts)
	require.NoError(t, err)

	var paths []string
	for _, f := range snap.Files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"a.tf", "src/b.py"}, paths)

	reasons := map[string]string{}
	for _, s := range snap.Skipped {
		reasons[s.Path] = s.Reason
	}
	assert.Equal(t, "binary content", reasons["blob.dat"])
	assert.Equal(t, "exceeds size limit", reasons["big.txt"])
}

func TestLocalRejectsMissingRoot(t *testing.T) {
	_, err := Local(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{})
	assert.ErrorIs(t, err, ErrPathNotFound)

	root := t.TempDir()
	writeFile(t, root, "a.py", []byte("x = 1\n"))
	_, err = Local(context.Background(), filepath.Join(root, "a.py"), Options{})
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestGitClassifiesCloneErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuthentication},
		{"forbidden", http.StatusForbidden, ErrAuthentication},
		{"missing repository", http.StatusNotFound, ErrRepoNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := Git(context.Background(), GitOptions{URL: srv.URL + "/acme/app.git", Token: "t"}, Options{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLocalHonoursCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", []byte("x = 1\n"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Local(ctx, root, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquireUnsupportedKind(t *testing.T) {
	_, err := Acquire(context.Background(), models.SourceDescriptor{Kind: "s3"}, Options{}, 0)
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestBlobURL(t *testing.T) {
	tests := []struct {
		repo, ref, path string
		line            int
		want            string
	}{
		{"https://github.com/acme/app.git", "main", "src/a.py", 12, "https://github.com/acme/app/blob/main/src/a.py#L12"},
		{"https://github.com/acme/app/", "", "a.py", 0, "https://github.com/acme/app/blob/HEAD/a.py"},
		{"https://user:pw@git.example.com/acme/app", "v1", "x", 3, "https://git.example.com/acme/app/blob/v1/x#L3"},
		{"git@github.com:acme/app.git", "main", "a.py", 1, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BlobURL(tt.repo, tt.ref, tt.path, tt.line))
	}
}
