// Package file writes message bodies to files and polls directories for new files.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/internal/simple"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/poll"
)

const Scheme = "file"

const (
	ExistOverride = "Override"
	ExistAppend   = "Append"
	ExistFail     = "Fail"
	ExistIgnore   = "Ignore"
)

var ErrFileExists = errors.New("file already exists")

type Config struct {
	core.PollOptions `uri:",squash"`

	// FileName may contain ${...} expressions evaluated per exchange.
	FileName   string `uri:"fileName"`
	FileExist  string `uri:"fileExist" validate:"oneof=Override Append Fail Ignore"`
	AutoCreate bool   `uri:"autoCreate"`
	TempPrefix string `uri:"tempPrefix"`

	Include            string `uri:"include"`
	Exclude            string `uri:"exclude"`
	Recursive          bool   `uri:"recursive"`
	Noop               bool   `uri:"noop"`
	Delete             bool   `uri:"delete"`
	Move               string `uri:"move"`
	MoveFailed         string `uri:"moveFailed"`
	MaxMessagesPerPoll int    `uri:"maxMessagesPerPoll" validate:"gte=0"`
	// SortBy is name or modified, optionally prefixed with "reverse:".
	SortBy string `uri:"sortBy"`
}

func DefaultConfig() Config {
	return Config{
		PollOptions: core.DefaultPollOptions(),
		FileExist:   ExistOverride,
		AutoCreate:  true,
		Move:        ".camel",
	}
}

type Component struct {
	logger *logger.CanonicalLogger
}

func New(log *logger.CanonicalLogger) *Component {
	return &Component{logger: log.Component(Scheme)}
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	if remaining == "" {
		return nil, core.NewResolveEndpointError(uri, "file endpoint requires a directory", nil)
	}
	cfg := DefaultConfig()
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	if cfg.Noop && cfg.Delete {
		return nil, core.NewResolveEndpointError(uri, "delete and noop cannot both be enabled", nil)
	}

	e := &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		dir:          filepath.Clean(remaining),
		cfg:          cfg,
		component:    c,
	}

	var err error
	if cfg.Include != "" {
		if e.include, err = regexp.Compile(cfg.Include); err != nil {
			return nil, core.NewResolveEndpointError(uri, "invalid include pattern", err)
		}
	}
	if cfg.Exclude != "" {
		if e.exclude, err = regexp.Compile(cfg.Exclude); err != nil {
			return nil, core.NewResolveEndpointError(uri, "invalid exclude pattern", err)
		}
	}
	if strings.Contains(cfg.FileName, "${") {
		if e.fileName, err = simple.Compile(cfg.FileName); err != nil {
			return nil, core.NewResolveEndpointError(uri, "invalid fileName expression", err)
		}
	}
	switch strings.TrimPrefix(cfg.SortBy, "reverse:") {
	case "", "name", "modified":
	default:
		return nil, core.NewResolveEndpointError(uri, "sortBy must be name or modified", nil)
	}
	return e, nil
}

type Endpoint struct {
	core.EndpointBase
	dir       string
	cfg       Config
	include   *regexp.Regexp
	exclude   *regexp.Regexp
	fileName  *simple.Expression
	component *Component
}

func (e *Endpoint) CreateProducer() (core.Producer, error) {
	return &producer{endpoint: e}, nil
}

func (e *Endpoint) CreateConsumer(processor core.Processor) (core.Consumer, error) {
	return &consumer{endpoint: e, processor: processor, seen: make(map[string]struct{})}, nil
}

type producer struct {
	core.NopService
	endpoint *Endpoint
}

func (p *producer) Process(ctx context.Context, ex *core.Exchange) error {
	e := p.endpoint
	name, err := p.name(ex)
	if err != nil {
		return err
	}

	target := filepath.Join(e.dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(e.dir, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return core.Invalidf("file name %q resolves outside %s", name, e.dir)
	}

	parent := filepath.Dir(target)
	if e.cfg.AutoCreate {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", parent, err)
		}
	}

	_, statErr := os.Stat(target)
	exists := statErr == nil
	switch {
	case exists && e.cfg.FileExist == ExistIgnore:
		ex.Message.SetHeader(core.HeaderFileNameProduced, target)
		return nil
	case exists && e.cfg.FileExist == ExistFail:
		return fmt.Errorf("cannot write %s: %w", target, ErrFileExists)
	}

	data, err := ex.Message.BodyBytes()
	if err != nil {
		return core.Invalid(err)
	}

	if e.cfg.FileExist == ExistAppend {
		err = appendFile(target, data)
	} else {
		err = writeFile(target, e.cfg.TempPrefix, data)
	}
	if err != nil {
		return err
	}
	ex.Message.SetHeader(core.HeaderFileNameProduced, target)
	return nil
}

// name picks the CamelFileName header, then the fileName option, then the exchange id.
func (p *producer) name(ex *core.Exchange) (string, error) {
	if n := ex.Message.HeaderString(core.HeaderFileName); n != "" {
		return n, nil
	}
	e := p.endpoint
	if e.fileName != nil {
		n, err := e.fileName.Evaluate(ex)
		if err != nil {
			return "", core.Invalid(fmt.Errorf("evaluate fileName: %w", err))
		}
		return n, nil
	}
	if e.cfg.FileName != "" {
		return e.cfg.FileName, nil
	}
	return ex.ID, nil
}

func appendFile(target string, data []byte) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", target, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append to %s: %w", target, err)
	}
	return f.Close()
}

// writeFile writes through a temporary sibling when tempPrefix is set so
// consumers never see a partial file.
func writeFile(target, tempPrefix string, data []byte) error {
	if tempPrefix == "" {
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
		return nil
	}
	tmp := filepath.Join(filepath.Dir(target), tempPrefix+filepath.Base(target))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename %s to %s: %w", tmp, target, err)
	}
	return nil
}

type candidate struct {
	path string
	rel  string
	info fs.FileInfo
}

type consumer struct {
	endpoint  *Endpoint
	processor core.Processor

	mu     sync.Mutex
	poller poll.Poller

	// seen holds the files consumed with noop.
	seenMu sync.Mutex
	seen   map[string]struct{}
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poller != nil {
		return nil
	}
	e := c.endpoint
	if e.cfg.AutoCreate {
		if err := os.MkdirAll(e.dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", e.dir, err)
		}
	}
	p := poll.NewPoller("file:"+e.dir, e.cfg.Config(), c.poll,
		poll.WithLogger(e.component.logger),
		poll.WithIdleFunc(func(ctx context.Context) error {
			return c.processor.Process(ctx, core.NewExchange(core.InOnly))
		}),
	)
	if err := p.Start(ctx); err != nil {
		return err
	}
	c.poller = p
	return nil
}

func (c *consumer) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poller == nil {
		return nil
	}
	err := c.poller.Stop()
	c.poller = nil
	return err
}

func (c *consumer) poll(ctx context.Context) (int, error) {
	files, err := c.scan()
	if err != nil {
		core.ReportConsumerError(ctx, c.processor, err)
		return 0, err
	}

	for i, f := range files {
		if ctx.Err() != nil {
			return i, nil
		}
		c.consume(ctx, f, i, len(files))
	}
	return len(files), nil
}

func (c *consumer) scan() ([]candidate, error) {
	e := c.endpoint
	var files []candidate

	err := filepath.WalkDir(e.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == e.dir {
				return nil
			}
			if !e.cfg.Recursive || strings.HasPrefix(d.Name(), ".") || c.isMoveDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || (e.cfg.TempPrefix != "" && strings.HasPrefix(name, e.cfg.TempPrefix)) {
			return nil
		}
		if e.include != nil && !e.include.MatchString(name) {
			return nil
		}
		if e.exclude != nil && e.exclude.MatchString(name) {
			return nil
		}
		if e.cfg.Noop {
			c.seenMu.Lock()
			_, done := c.seen[path]
			c.seenMu.Unlock()
			if done {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(e.dir, path)
		files = append(files, candidate{path: path, rel: filepath.ToSlash(rel), info: info})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", e.dir, err)
	}

	sortFiles(files, e.cfg.SortBy)
	if n := e.cfg.MaxMessagesPerPoll; n > 0 && len(files) > n {
		files = files[:n]
	}
	return files, nil
}

func (c *consumer) isMoveDir(path string) bool {
	move := c.endpoint.cfg.Move
	if move == "" || filepath.IsAbs(move) {
		return false
	}
	return filepath.Base(path) == filepath.Base(filepath.Clean(move))
}

func sortFiles(files []candidate, by string) {
	reverse := strings.HasPrefix(by, "reverse:")
	less := func(a, b candidate) bool { return a.rel < b.rel }
	if strings.TrimPrefix(by, "reverse:") == "modified" {
		less = func(a, b candidate) bool {
			if a.info.ModTime().Equal(b.info.ModTime()) {
				return a.rel < b.rel
			}
			return a.info.ModTime().Before(b.info.ModTime())
		}
	}
	sort.SliceStable(files, func(i, j int) bool {
		if reverse {
			return less(files[j], files[i])
		}
		return less(files[i], files[j])
	})
}

func (c *consumer) consume(ctx context.Context, f candidate, index, size int) {
	e := c.endpoint
	log := e.component.logger.With(logger.String("file", f.path))

	data, err := os.ReadFile(f.path)
	if err != nil {
		log.WithError(err).Warn("cannot read file, skipping")
		return
	}

	ex := core.NewExchange(core.InOnly)
	ex.FromEndpoint = e.URI()
	msg := ex.Message
	msg.Body = data
	msg.SetHeader(core.HeaderFileName, f.rel)
	msg.SetHeader(core.HeaderFileNameOnly, filepath.Base(f.path))
	if abs, err := filepath.Abs(f.path); err == nil {
		msg.SetHeader(core.HeaderFileAbsolutePath, abs)
	}
	msg.SetHeader(core.HeaderFileParent, filepath.Dir(f.path))
	msg.SetHeader(core.HeaderFileLength, f.info.Size())
	msg.SetHeader(core.HeaderFileLastModified, f.info.ModTime())
	ex.SetProperty(core.PropertyBatchIndex, index)
	ex.SetProperty(core.PropertyBatchSize, size)
	ex.SetProperty(core.PropertyBatchComplete, index == size-1)

	if err := c.processor.Process(ctx, ex); err != nil {
		if e.cfg.MoveFailed != "" {
			if err := moveTo(f.path, e.cfg.MoveFailed); err != nil {
				log.WithError(err).Error("failed to move failed file")
			}
		}
		return
	}

	switch {
	case e.cfg.Noop:
		c.seenMu.Lock()
		c.seen[f.path] = struct{}{}
		c.seenMu.Unlock()
	case e.cfg.Delete:
		if err := os.Remove(f.path); err != nil {
			log.WithError(err).Error("failed to delete consumed file")
		}
	case e.cfg.Move != "":
		if err := moveTo(f.path, e.cfg.Move); err != nil {
			log.WithError(err).Error("failed to move consumed file")
		}
	}
}

// moveTo moves path into dir. A relative dir is resolved against the
// directory of the file.
func moveTo(path, dir string) error {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(path), dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(dir, filepath.Base(path)))
}
