package project

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/plural-refactor/config"
	"github.com/zhubert/plural-refactor/logger"
)

func quietLogger() Option {
	return WithLogger(slog.New(slog.DiscardHandler))
}

// writeTree creates files relative to root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func openProject(t *testing.T, files map[string]string, cfg *config.Config) *Project {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, files)
	if cfg == nil {
		cfg = config.Default()
		cfg.IgnoredResources = config.DefaultIgnoredResources
	}
	p, err := Open(root, cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestOpen_InvalidRoot(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"), nil, quietLogger())
	assert.ErrorIs(t, err, ErrInvalidProject)

	file := filepath.Join(t.TempDir(), "file.py")
	require.NoError(t, os.WriteFile(file, []byte("x = 1\n"), 0644))
	_, err = Open(file, nil, quietLogger())
	assert.ErrorIs(t, err, ErrInvalidProject)
}

func TestOpen_SourceFolders(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"src/pkg/a.py": "a = 1\n"})

	cfg := config.Default()
	cfg.SourceFolders = []string{"src"}
	p, err := Open(root, cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(p.Root(), "src")}, p.SourceFolders())

	cfg.SourceFolders = []string{"nope"}
	_, err = Open(root, cfg, quietLogger())
	assert.ErrorIs(t, err, ErrInvalidProject)

	cfg.SourceFolders = []string{t.TempDir()}
	_, err = Open(root, cfg, quietLogger())
	assert.ErrorIs(t, err, ErrInvalidProject, "folders outside the root are rejected")
}

func TestResolve(t *testing.T) {
	p := openProject(t, map[string]string{
		"main.py":           "x = 1\n",
		"pkg/util.py":       "y = 2\n",
		".venv/lib/site.py": "z = 3\n",
		"notes.txt":         "hello\n",
	}, nil)

	tests := []struct {
		name    string
		path    string
		wantRel string
		wantErr bool
	}{
		{name: "relative", path: "main.py", wantRel: "main.py"},
		{name: "nested relative", path: "pkg/util.py", wantRel: "pkg/util.py"},
		{name: "absolute", path: filepath.Join(p.Root(), "pkg", "util.py"), wantRel: "pkg/util.py"},
		{name: "non python file still resolves", path: "notes.txt", wantRel: "notes.txt"},
		{name: "missing", path: "missing.py", wantErr: true},
		{name: "ignored", path: ".venv/lib/site.py", wantErr: true},
		{name: "directory", path: "pkg", wantErr: true},
		{name: "root itself", path: ".", wantErr: true},
		{name: "escapes root", path: "../outside.py", wantErr: true},
		{name: "empty", path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Resolve(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnresolvable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRel, res.Rel)
			assert.Equal(t, filepath.Join(p.Root(), filepath.FromSlash(tt.wantRel)), res.Path)
		})
	}
}

func TestResolve_SymlinkCanonicalPath(t *testing.T) {
	p := openProject(t, map[string]string{"real/mod.py": "a = 1\n"}, nil)
	link := filepath.Join(p.Root(), "alias.py")
	if err := os.Symlink(filepath.Join(p.Root(), "real", "mod.py"), link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	res, err := p.Resolve("alias.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.Root(), "real", "mod.py"), res.Path)
	assert.Equal(t, "real/mod.py", res.Rel)
}

func TestAnalyze_ParsesSourceFoldersAndSkipsIgnored(t *testing.T) {
	p := openProject(t, map[string]string{
		"main.py":            "def f():\n    return 1\n",
		"pkg/broken.py":      "def (:\n",
		".git/hooks/hook.py": "x = 1\n",
		"venv/lib/thing.py":  "x = 1\n",
		"stubs/types.pyi":    "def g() -> int: ...\n",
		"README.md":          "# readme\n",
	}, nil)

	require.NoError(t, p.Analyze(context.Background()))

	assert.True(t, p.Cached(filepath.Join(p.Root(), "main.py")))
	assert.True(t, p.Cached(filepath.Join(p.Root(), "pkg", "broken.py")), "syntax errors are not fatal")
	assert.True(t, p.Cached(filepath.Join(p.Root(), "stubs", "types.pyi")))
	assert.False(t, p.Cached(filepath.Join(p.Root(), ".git", "hooks", "hook.py")))
	assert.False(t, p.Cached(filepath.Join(p.Root(), "venv", "lib", "thing.py")))
	assert.False(t, p.Cached(filepath.Join(p.Root(), "README.md")))
}

func TestWithCacheSize_BoundsResidentModules(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.py": "a = 1\n", "b.py": "b = 2\n"})
	log, capture := logger.NewCapture()

	p, err := Open(root, config.Default(), WithLogger(log), WithCacheSize(1))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	require.NoError(t, p.Analyze(context.Background()))

	resident := 0
	for _, name := range []string{"a.py", "b.py"} {
		if p.Cached(filepath.Join(p.Root(), name)) {
			resident++
		}
	}
	assert.Equal(t, 1, resident)

	warnings := capture.Find("module cache smaller than project, analyzed modules were evicted")
	require.Len(t, warnings, 1)
	assert.Equal(t, int64(2), warnings[0].Attrs["modules"])
	assert.Equal(t, int64(1), warnings[0].Attrs["cache_size"])

	// An evicted module is parsed again on demand.
	res, err := p.Resolve("a.py")
	require.NoError(t, err)
	m, err := p.Module(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, "a = 1\n", string(m.Source))
}

func TestWithCacheSize_IgnoresNonPositive(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.py": "a = 1\n", "b.py": "b = 2\n"})
	log, capture := logger.NewCapture()

	p, err := Open(root, config.Default(), WithLogger(log), WithCacheSize(0))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	require.NoError(t, p.Analyze(context.Background()))

	assert.True(t, p.Cached(filepath.Join(p.Root(), "a.py")))
	assert.True(t, p.Cached(filepath.Join(p.Root(), "b.py")))
	assert.False(t, capture.Contains("module cache smaller"))
}

func TestModule_ReparsesChangedFile(t *testing.T) {
	p := openProject(t, map[string]string{"main.py": "x = 1\n"}, nil)
	ctx := context.Background()

	res, err := p.Resolve("main.py")
	require.NoError(t, err)

	first, err := p.Module(ctx, res)
	require.NoError(t, err)
	again, err := p.Module(ctx, res)
	require.NoError(t, err)
	assert.Same(t, first, again, "unchanged file is served from the cache")

	require.NoError(t, os.WriteFile(res.Path, []byte("x = 1\ny = x + 1\n"), 0644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(res.Path, later, later))

	fresh, err := p.Module(ctx, res)
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
	assert.Equal(t, "x = 1\ny = x + 1\n", string(fresh.Source))
	assert.Equal(t, "x = 1\n", string(first.Source), "old snapshots are immutable")
}

func TestModule_Errors(t *testing.T) {
	p := openProject(t, map[string]string{"notes.txt": "hi\n", "gone.py": "x = 1\n"}, nil)
	ctx := context.Background()

	res, err := p.Resolve("notes.txt")
	require.NoError(t, err)
	_, err = p.Module(ctx, res)
	assert.ErrorIs(t, err, ErrNotPython)

	gone, err := p.Resolve("gone.py")
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone.Path))
	_, err = p.Module(ctx, gone)
	assert.Error(t, err)
	assert.False(t, p.Cached(gone.Path))
}

func TestModule_ByteOffset(t *testing.T) {
	m := &Module{Resource: Resource{Rel: "m.py"}, Source: []byte("é = 1\n")}

	tests := []struct {
		offset  int
		want    int
		wantErr bool
	}{
		{offset: 0, want: 0},
		{offset: 1, want: 2},
		{offset: 2, want: 3},
		{offset: 6, want: 7},
		{offset: 7, wantErr: true},
		{offset: -1, wantErr: true},
	}
	for _, tt := range tests {
		got, err := m.ByteOffset(tt.offset)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrOffsetOutOfRange), "offset %d", tt.offset)
			continue
		}
		require.NoError(t, err, "offset %d", tt.offset)
		assert.Equal(t, tt.want, got, "offset %d", tt.offset)
	}
}

func TestWatch_EvictsRemovedFiles(t *testing.T) {
	p := openProject(t, map[string]string{"main.py": "x = 1\n"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, p.Analyze(ctx))
	require.NoError(t, p.Watch(ctx))

	path := filepath.Join(p.Root(), "main.py")
	require.True(t, p.Cached(path))
	require.NoError(t, os.Remove(path))

	assert.Eventually(t, func() bool { return !p.Cached(path) }, 5*time.Second, 20*time.Millisecond)
}

func TestWatch_ParsesNewFiles(t *testing.T) {
	p := openProject(t, map[string]string{"main.py": "x = 1\n"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, p.Watch(ctx))

	path := filepath.Join(p.Root(), "added.py")
	require.NoError(t, os.WriteFile(path, []byte("y = 2\n"), 0644))

	assert.Eventually(t, func() bool { return p.Cached(path) }, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, p.Close())
}
