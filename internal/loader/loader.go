// Package loader turns a pool identifier into a runnable task handle.
//
// A pool source is a YAML manifest naming a registered task kind. Every Load
// evicts the cached handle for the identifier before reading the file again,
// so a reload always reflects the bytes currently on disk.
package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	hperrors "hotpool/internal/errors"
	"hotpool/internal/logging"
	"hotpool/internal/pool"
	"hotpool/internal/task"
)

const (
	DefaultCacheSize = 128
	DefaultInterval  = 8 * time.Second
)

// Manifest is the on-disk form of a task.
type Manifest struct {
	Name        string        `yaml:"name"`
	Version     string        `yaml:"version"`
	Description string        `yaml:"description"`
	Kind        string        `yaml:"kind"`
	Interval    time.Duration `yaml:"interval"`
	Options     yaml.Node     `yaml:"options"`
}

// Loader builds task handles from pool manifests.
type Loader struct {
	fs              afero.Fs
	layout          pool.Layout
	catalog         *task.Catalog
	cache           *lru.Cache[string, *task.Handle]
	stdout          io.Writer
	logger          logging.Logger
	taskLogger      logging.Logger
	defaultInterval time.Duration
	cacheSize       int
}

// Option customizes a Loader.
type Option func(*Loader)

// WithLogger sets the loader's diagnostics logger.
func WithLogger(logger logging.Logger) Option {
	return func(l *Loader) { l.logger = logging.OrNop(logger) }
}

// WithTaskLogger sets the logger handed to task factories.
func WithTaskLogger(logger logging.Logger) Option {
	return func(l *Loader) { l.taskLogger = logging.OrNop(logger) }
}

// WithStdout sets where tasks write their output.
func WithStdout(w io.Writer) Option {
	return func(l *Loader) {
		if w != nil {
			l.stdout = w
		}
	}
}

// WithCacheSize bounds the handle cache.
func WithCacheSize(size int) Option {
	return func(l *Loader) {
		if size > 0 {
			l.cacheSize = size
		}
	}
}

// WithDefaultInterval sets the wait used when a manifest omits interval.
func WithDefaultInterval(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.defaultInterval = d
		}
	}
}

// New creates a loader reading sources from fs.
func New(fs afero.Fs, layout pool.Layout, catalog *task.Catalog, opts ...Option) (*Loader, error) {
	if fs == nil {
		return nil, fmt.Errorf("new loader: filesystem is nil")
	}
	if catalog == nil {
		return nil, fmt.Errorf("new loader: catalog is nil")
	}
	l := &Loader{
		fs:              fs,
		layout:          layout.WithDefaults(),
		catalog:         catalog,
		stdout:          os.Stdout,
		logger:          logging.Nop(),
		defaultInterval: DefaultInterval,
		cacheSize:       DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.taskLogger == nil {
		l.taskLogger = l.logger
	}
	cache, err := lru.New[string, *task.Handle](l.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("new loader cache: %w", err)
	}
	l.cache = cache
	return l, nil
}

// Load reads and builds a fresh handle for id.
func (l *Loader) Load(ctx context.Context, id string) (*task.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, hperrors.New(hperrors.LoadFailure, id, err)
	}

	previous, hadPrevious := l.cache.Peek(id)
	l.cache.Remove(id)

	src, err := afero.ReadFile(l.fs, l.layout.Path(id))
	if err != nil {
		return nil, hperrors.New(hperrors.LoadFailure, id, err)
	}

	manifest, err := ParseManifest(src)
	if err != nil {
		return nil, hperrors.New(hperrors.LoadFailure, id, err)
	}
	if err := manifest.validate(id); err != nil {
		return nil, err
	}

	factory, ok := l.catalog.Lookup(manifest.Kind)
	if !ok {
		return nil, hperrors.Newf(hperrors.MissingEntryPoint, id, "unknown kind %q (registered: %s)", manifest.Kind, strings.Join(l.catalog.Kinds(), ", "))
	}

	interval := manifest.Interval
	if interval == 0 {
		interval = l.defaultInterval
	}
	built, err := factory(task.Spec{
		ID: id,
		Metadata: task.Metadata{
			Name:        manifest.Name,
			Version:     manifest.Version,
			Description: manifest.Description,
		},
		Interval: interval,
		Options:  manifest.Options,
		Stdout:   l.stdout,
		Logger:   l.taskLogger,
	})
	if err != nil {
		return nil, hperrors.New(hperrors.LoadFailure, id, err)
	}
	if built == nil {
		return nil, hperrors.Newf(hperrors.LoadFailure, id, "kind %q produced no task", manifest.Kind)
	}

	handle := task.NewHandle(id, manifest.Kind, src, built)
	l.cache.Add(id, handle)

	if hadPrevious {
		added, removed := changeSize(previous.Source, src)
		l.logger.Debug("Loader: %s source changed (+%d/-%d chars)", id, added, removed)
	}
	return handle, nil
}

// Cached returns the most recently loaded handle for id.
func (l *Loader) Cached(id string) (*task.Handle, bool) {
	return l.cache.Peek(id)
}

// Forget drops the cached handle for id.
func (l *Loader) Forget(id string) {
	l.cache.Remove(id)
}

// ParseManifest decodes a manifest without validating it.
func ParseManifest(src []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(src, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	m.Kind = strings.TrimSpace(m.Kind)
	return m, nil
}

func (m Manifest) validate(id string) error {
	var missing []string
	if strings.TrimSpace(m.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(m.Version) == "" {
		missing = append(missing, "version")
	}
	if len(missing) > 0 {
		return hperrors.Newf(hperrors.MissingMetadata, id, "missing %s", strings.Join(missing, ", "))
	}
	if m.Kind == "" {
		return hperrors.Newf(hperrors.MissingEntryPoint, id, "manifest has no kind")
	}
	if m.Interval < 0 {
		return hperrors.Newf(hperrors.LoadFailure, id, "negative interval %s", m.Interval)
	}
	return nil
}

func changeSize(before, after []byte) (added, removed int) {
	dmp := diffmatchpatch.New()
	for _, d := range dmp.DiffMain(string(before), string(after), false) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(d.Text)
		}
	}
	return added, removed
}
