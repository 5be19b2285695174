package task

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"hotpool/internal/logging"
)

// Built-in kind names.
const (
	KindEcho    = "echo"
	KindSample  = "sample"
	KindCommand = "command"
)

// Builtins returns a catalog holding the built-in kinds.
func Builtins() *Catalog {
	c := NewCatalog()
	c.MustRegister(KindEcho, newEcho)
	c.MustRegister(KindSample, newSample)
	c.MustRegister(KindCommand, newCommand)
	return c
}

// paced carries the parts every built-in shares: metadata and the wait that
// ends each unit of work.
type paced struct {
	meta     Metadata
	interval time.Duration
	stdout   io.Writer
	logger   logging.Logger
}

func newPaced(spec Spec) (paced, error) {
	if spec.Interval <= 0 {
		return paced{}, fmt.Errorf("interval must be positive, got %s", spec.Interval)
	}
	out := spec.Stdout
	if out == nil {
		out = os.Stdout
	}
	return paced{
		meta:     spec.Metadata,
		interval: spec.Interval,
		stdout:   out,
		logger:   logging.OrNop(spec.Logger),
	}, nil
}

func (p paced) Metadata() Metadata { return p.meta }

func (p paced) wait() { time.Sleep(p.interval) }

// expand substitutes ${name}, ${version} and ${id} in s.
func (p paced) expand(s, id string) string {
	return os.Expand(s, func(key string) string {
		switch key {
		case "name":
			return p.meta.Name
		case "version":
			return p.meta.Version
		case "id":
			return id
		default:
			return "${" + key + "}"
		}
	})
}

type echoTask struct {
	paced
	message string
}

type echoOptions struct {
	Message string `yaml:"message"`
}

func newEcho(spec Spec) (Task, error) {
	base, err := newPaced(spec)
	if err != nil {
		return nil, err
	}
	var opts echoOptions
	if err := spec.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if opts.Message == "" {
		return nil, fmt.Errorf("echo: options.message is required")
	}
	return &echoTask{paced: base, message: base.expand(opts.Message, spec.ID)}, nil
}

func (t *echoTask) RunOnce() {
	fmt.Fprintln(t.stdout, t.message)
	t.wait()
}

type sampleTask struct {
	paced
}

func newSample(spec Spec) (Task, error) {
	base, err := newPaced(spec)
	if err != nil {
		return nil, err
	}
	return &sampleTask{paced: base}, nil
}

func (t *sampleTask) RunOnce() {
	fmt.Fprintf(t.stdout, "Hi! my name is %s: %s\n", t.meta.Name, t.meta.Version)
	t.wait()
}

type commandTask struct {
	paced
	command string
	args    []string
	dir     string
	timeout time.Duration
}

type commandOptions struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

func newCommand(spec Spec) (Task, error) {
	base, err := newPaced(spec)
	if err != nil {
		return nil, err
	}
	var opts commandOptions
	if err := spec.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.Command) == "" {
		return nil, fmt.Errorf("command: options.command is required")
	}
	if _, err := exec.LookPath(opts.Command); err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	return &commandTask{
		paced:   base,
		command: opts.Command,
		args:    opts.Args,
		dir:     opts.Dir,
		timeout: opts.Timeout,
	}, nil
}

func (t *commandTask) RunOnce() {
	ctx := context.Background()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, t.command, t.args...)
	cmd.Dir = t.dir
	cmd.Stdout = t.stdout
	cmd.Stderr = t.stdout
	start := time.Now()
	if err := cmd.Run(); err != nil {
		t.logger.Warn("Task %s: command %s failed after %s: %v", t.meta.Name, t.command, time.Since(start).Round(time.Millisecond), err)
	} else {
		t.logger.Debug("Task %s: command %s finished in %s", t.meta.Name, t.command, time.Since(start).Round(time.Millisecond))
	}
	t.wait()
}
