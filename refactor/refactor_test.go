package refactor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/plural-refactor/config"
	"github.com/zhubert/plural-refactor/project"
	"github.com/zhubert/plural-refactor/provider"
)

// fixture is a one-file project opened on a temp dir.
type fixture struct {
	model *project.Project
	res   project.Resource
	src   string
}

func newFixture(t *testing.T, src string) *fixture {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte(src), 0644))

	p, err := project.Open(root, config.Default(), project.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	res, err := p.Resolve("main.py")
	require.NoError(t, err)
	return &fixture{model: p, res: res, src: src}
}

// cursor returns the character offset of the delta-th character of the first
// occurrence of needle.
func (f *fixture) cursor(t *testing.T, needle string, delta int) int {
	t.Helper()
	i := strings.Index(f.src, needle)
	require.GreaterOrEqual(t, i, 0, "needle %q not in source", needle)
	return utf8.RuneCountInString(f.src[:i]) + delta
}

func (f *fixture) run(t *testing.T, fn provider.Func, offset int) (project.Changeset, error) {
	t.Helper()
	return fn(context.Background(), f.model, f.res, offset)
}

// contents returns the single proposed file of cs.
func (f *fixture) contents(t *testing.T, cs project.Changeset) string {
	t.Helper()
	require.Len(t, cs.Changes, 1)
	assert.Equal(t, f.res.Path, cs.Changes[0].Resource.Path)
	return cs.Changes[0].NewContents
}

func TestProviders_Order(t *testing.T) {
	entries, err := Providers(config.Default())
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{Inline, IntroduceParameter, LocalToField}, names)
	assert.Equal(t, Known(), names)
}

func TestProviders_Disabled(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Disabled = []string{LocalToField}

	reg, err := NewRegistry(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{Inline, IntroduceParameter}, reg.Names())
}

func TestProviders_UnknownDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Disabled = []string{"extract_method"}

	_, err := Providers(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestProviders_NilConfig(t *testing.T) {
	entries, err := Providers(nil)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestProviders_ParameterName(t *testing.T) {
	f := newFixture(t, "def tick():\n    return TIMEOUT\n")

	cfg := config.Default()
	cfg.Providers.IntroduceParameter.ParameterName = "timeout"
	entries, err := Providers(cfg)
	require.NoError(t, err)

	cs, err := f.run(t, entries[1].Func, f.cursor(t, "TIMEOUT", 0))
	require.NoError(t, err)
	assert.Equal(t, "def tick(timeout=TIMEOUT):\n    return timeout\n", f.contents(t, cs))
}

// Only introduce_parameter applies to an attribute name, so the envelope
// carries just that provider.
func TestRegistry_OnlyApplicableProvidersSucceed(t *testing.T) {
	src := "import config\n\n\ndef connect(host):\n    return open_socket(host, config.PORT)\n"
	f := newFixture(t, src)

	reg, err := NewRegistry(config.Default())
	require.NoError(t, err)

	results := reg.Invoke(context.Background(), f.model, f.res, f.cursor(t, "PORT", 1))
	require.Len(t, results, 3)

	ok := provider.Successes(results)
	require.Len(t, ok, 1)
	assert.Equal(t, IntroduceParameter, ok[0].Provider)
	assert.Equal(t,
		"import config\n\n\ndef connect(host, new_param=config.PORT):\n    return open_socket(host, new_param)\n",
		f.contents(t, ok[0].Changeset),
	)
}

func TestRegistry_DoesNotWriteFiles(t *testing.T) {
	src := "def f():\n    a = 1\n    return a\n"
	f := newFixture(t, src)

	reg, err := NewRegistry(config.Default())
	require.NoError(t, err)

	offset := f.cursor(t, "return a", 7)
	first := reg.Invoke(context.Background(), f.model, f.res, offset)
	second := reg.Invoke(context.Background(), f.model, f.res, offset)
	assert.Len(t, provider.Successes(first), 2)
	assert.Equal(t, provider.Successes(first), provider.Successes(second))

	onDisk, err := os.ReadFile(f.res.Path)
	require.NoError(t, err)
	assert.Equal(t, src, string(onDisk))
}

func TestOffsetOutOfRange(t *testing.T) {
	f := newFixture(t, "x = 1\n")
	for _, fn := range []provider.Func{InlineVariable, NewIntroduceParameter("p"), ConvertLocalToField} {
		_, err := f.run(t, fn, 1000)
		assert.ErrorIs(t, err, project.ErrOffsetOutOfRange)
	}
}
