package project

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"golang.org/x/sync/errgroup"

	"github.com/zhubert/plural-refactor/config"
	"github.com/zhubert/plural-refactor/logger"
)

// DefaultCacheSize bounds the number of parsed modules kept in memory when
// WithCacheSize is not given.
const DefaultCacheSize = 4096

var pythonExtensions = []string{".py", ".pyi"}

// Option configures a Project.
type Option func(*Project)

// WithCacheSize sets the number of parsed modules kept in memory. Values
// below one keep DefaultCacheSize.
//
// The cache is least-recently-used: when a project has more Python files
// than the cache holds, the analysis pass evicts the modules it parsed first
// and later requests for them parse again. Size it above the module count of
// the project to keep the whole analysis resident.
func WithCacheSize(n int) Option {
	return func(p *Project) {
		if n > 0 {
			p.cacheSize = n
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Project) {
		if log != nil {
			p.log = log
		}
	}
}

// Project is the tree-sitter backed Python project model.
type Project struct {
	root          string
	sourceFolders []string
	ignore        *Matcher
	cacheSize     int
	cache         *lru.Cache[string, *Module]
	watcher       *Watcher
	log           *slog.Logger
}

// Open validates root and the configured source folders and returns an
// empty project. Call Analyze to parse its modules.
func Open(root string, cfg *config.Config, opts ...Option) (*Project, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	canonical, err := canonicalDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: project root %q: %v", ErrInvalidProject, root, err)
	}

	p := &Project{
		root:      canonical,
		ignore:    NewMatcher(cfg.IgnoredResources),
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.WithComponent("project")
	}

	for _, folder := range cfg.SourceFolders {
		if !filepath.IsAbs(folder) {
			folder = filepath.Join(canonical, folder)
		}
		dir, err := canonicalDir(folder)
		if err != nil {
			return nil, fmt.Errorf("%w: source folder %q: %v", ErrInvalidProject, folder, err)
		}
		if _, ok := p.relative(dir); !ok {
			return nil, fmt.Errorf("%w: source folder %q is outside the project", ErrInvalidProject, folder)
		}
		p.sourceFolders = append(p.sourceFolders, dir)
	}
	if len(p.sourceFolders) == 0 {
		p.sourceFolders = []string{canonical}
	}

	cache, err := lru.New[string, *Module](p.cacheSize)
	if err != nil {
		return nil, err
	}
	p.cache = cache
	return p, nil
}

func canonicalDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory")
	}
	return resolved, nil
}

// Root returns the canonical project root.
func (p *Project) Root() string {
	return p.root
}

// SourceFolders returns the canonical folders analyzed at startup.
func (p *Project) SourceFolders() []string {
	return append([]string(nil), p.sourceFolders...)
}

// relative returns the slash-separated path of abs below the root.
func (p *Project) relative(abs string) (string, bool) {
	rel, err := filepath.Rel(p.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Resolve maps an absolute or root-relative path to a Resource. The file must
// exist, be a regular file inside the project and not be ignored.
func (p *Project) Resolve(path string) (Resource, error) {
	if path == "" {
		return Resource{}, fmt.Errorf("%w: empty path", ErrUnresolvable)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.root, path)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(path))
	if err != nil {
		return Resource{}, fmt.Errorf("%w: %s: %v", ErrUnresolvable, path, err)
	}
	rel, ok := p.relative(resolved)
	if !ok || rel == "." {
		return Resource{}, fmt.Errorf("%w: %s is outside %s", ErrUnresolvable, path, p.root)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return Resource{}, fmt.Errorf("%w: %s: %v", ErrUnresolvable, path, err)
	}
	if !info.Mode().IsRegular() {
		return Resource{}, fmt.Errorf("%w: %s is not a regular file", ErrUnresolvable, path)
	}
	if p.ignore.Ignored(rel) {
		return Resource{}, fmt.Errorf("%w: %s is ignored", ErrUnresolvable, rel)
	}
	return Resource{Path: resolved, Rel: rel}, nil
}

// Module returns the parsed snapshot of res, re-parsing it when the file
// changed on disk since it was cached.
func (p *Project) Module(ctx context.Context, res Resource) (*Module, error) {
	if !isPython(res.Path) {
		return nil, fmt.Errorf("%w: %s", ErrNotPython, res.Rel)
	}
	return p.load(ctx, res)
}

func (p *Project) load(ctx context.Context, res Resource) (*Module, error) {
	info, err := os.Stat(res.Path)
	if err != nil {
		p.cache.Remove(res.Path)
		return nil, fmt.Errorf("failed to stat %s: %w", res.Rel, err)
	}

	if m, ok := p.cache.Get(res.Path); ok && m.Size == info.Size() && m.ModTime.Equal(info.ModTime()) {
		return m, nil
	}

	content, err := os.ReadFile(res.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", res.Rel, err)
	}
	m, err := parseModule(ctx, res, content, info)
	if err != nil {
		return nil, err
	}
	p.cache.Add(res.Path, m)
	return m, nil
}

// Cached reports whether a snapshot of the file at path is in the cache.
func (p *Project) Cached(path string) bool {
	return p.cache.Contains(path)
}

// Analyze parses every Python module under the source folders. A file that
// cannot be read fails the whole pass; syntax errors do not.
func (p *Project) Analyze(ctx context.Context) error {
	start := time.Now()

	var resources []Resource
	for _, folder := range p.sourceFolders {
		found, err := p.collect(folder)
		if err != nil {
			return err
		}
		resources = append(resources, found...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, res := range resources {
		g.Go(func() error {
			_, err := p.load(gctx, res)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	p.log.Info("analysis complete",
		"root", p.root,
		"modules", len(resources),
		"duration", time.Since(start))
	if len(resources) > p.cacheSize {
		p.log.Warn("module cache smaller than project, analyzed modules were evicted",
			"modules", len(resources),
			"cache_size", p.cacheSize)
	}
	return nil
}

// collect lists the Python resources below dir, skipping ignored paths.
func (p *Project) collect(dir string) ([]Resource, error) {
	var out []Resource
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, ok := p.relative(path)
		if !ok {
			return nil
		}
		if p.ignore.Ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && isPython(path) {
			out = append(out, Resource{Path: path, Rel: rel})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return out, nil
}

// Watch starts a background watcher that keeps the cache fresh. It is a
// no-op when already watching.
func (p *Project) Watch(ctx context.Context) error {
	if p.watcher != nil {
		return nil
	}
	w, err := newWatcher(p)
	if err != nil {
		return err
	}
	if err := w.start(ctx); err != nil {
		w.Close()
		return err
	}
	p.watcher = w
	return nil
}

// Close stops the watcher, if any.
func (p *Project) Close() error {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Close()
}

func isPython(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range pythonExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// parseModule builds a snapshot. A new tree-sitter parser is created per call
// so analysis can run in parallel.
func parseModule(ctx context.Context, res Resource, content []byte, info os.FileInfo) (*Module, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", res.Rel, err)
	}

	return &Module{
		Resource: res,
		Source:   content,
		Tree:     tree,
		ModTime:  info.ModTime(),
		Size:     info.Size(),
	}, nil
}
