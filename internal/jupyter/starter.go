package jupyter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/nbcheck/internal/kernel"
	"github.com/roach88/nbcheck/internal/notebook"
)

// Probe asks the server which kernel API it speaks and returns the matching
// starter. Servers with /api/kernelspecs get a KernelspecStarter that honours
// each notebook's kernelspec; servers without it get a DefaultStarter.
//
// Probe runs once, before any notebook is loaded.
func Probe(ctx context.Context, client *Client, logger *slog.Logger) (kernel.Starter, error) {
	if logger == nil {
		logger = client.logger
	}

	specs, err := client.KernelSpecs(ctx)
	if errors.Is(err, ErrNotSupported) {
		logger.Info("server has no kernelspecs endpoint, using its default kernel", "server", client.URL())
		return &DefaultStarter{client: client, logger: logger}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", client.URL(), err)
	}

	logger.Debug("server kernelspecs",
		"server", client.URL(),
		"default", specs.Default,
		"installed", specs.Names(),
	)
	return &KernelspecStarter{client: client, specs: specs, logger: logger}, nil
}

// KernelspecStarter starts the kernelspec a notebook names in its metadata,
// or the server's default kernelspec when it names none.
type KernelspecStarter struct {
	client *Client
	specs  *KernelSpecs
	logger *slog.Logger
}

// NewKernelspecStarter creates a starter for a server whose installed
// kernelspecs are already known.
func NewKernelspecStarter(client *Client, specs *KernelSpecs, logger *slog.Logger) *KernelspecStarter {
	if logger == nil {
		logger = client.logger
	}
	return &KernelspecStarter{client: client, specs: specs, logger: logger}
}

// Start implements kernel.Starter.
func (s *KernelspecStarter) Start(ctx context.Context, doc *notebook.Document) (kernel.Session, error) {
	name := s.Resolve(doc)
	if name != "" && len(s.specs.Kernelspecs) > 0 && !s.specs.Has(name) {
		installed := s.specs.Names()
		slices.Sort(installed)
		return nil, fmt.Errorf("no kernelspec named %q (installed: %s)", name, strings.Join(installed, ", "))
	}
	return startSession(ctx, s.client, s.logger, name)
}

// Resolve returns the kernelspec name Start would use for doc.
func (s *KernelspecStarter) Resolve(doc *notebook.Document) string {
	if name := doc.KernelName(); name != "" {
		return name
	}
	return s.specs.Default
}

// DefaultStarter always starts the server's default kernel. Notebook
// kernelspecs are ignored since the server cannot select one.
type DefaultStarter struct {
	client *Client
	logger *slog.Logger
}

// NewDefaultStarter creates a starter that always asks for the default kernel.
func NewDefaultStarter(client *Client, logger *slog.Logger) *DefaultStarter {
	if logger == nil {
		logger = client.logger
	}
	return &DefaultStarter{client: client, logger: logger}
}

// Start implements kernel.Starter.
func (s *DefaultStarter) Start(ctx context.Context, doc *notebook.Document) (kernel.Session, error) {
	if name := doc.KernelName(); name != "" {
		s.logger.Debug("ignoring notebook kernelspec", "path", doc.Path, "kernel", name)
	}
	return startSession(ctx, s.client, s.logger, "")
}

// startSession starts a kernel and connects to it. The session owns the
// kernel; if connecting fails the kernel is shut down again.
func startSession(ctx context.Context, client *Client, logger *slog.Logger, name string) (kernel.Session, error) {
	model, err := client.StartKernel(ctx, name)
	if err != nil {
		return nil, err
	}

	sess, err := client.Connect(ctx, model.ID)
	if err != nil {
		if stopErr := client.ShutdownKernel(context.WithoutCancel(ctx), model.ID); stopErr != nil {
			logger.Warn("failed to stop unreachable kernel", "kernel_id", model.ID, "error", stopErr)
		}
		return nil, err
	}
	sess.ownsKernel = true
	return sess, nil
}
