// Package ioadapter offloads blocking metadata syscalls onto a worker-pool
// shared across the run, exposing a suspending interface to the async core:
// ScanDir, Stat, Unlink, Rmdir, IsLink, Exists. It is grounded on the
// request/response worker pattern shown in the NFS cache cleaner's
// Statter goroutine (a fixed consumer reading a statRequestCh and replying
// on a per-request channel) — generalized here from a single stat-only
// worker into a pool handling all six metadata operations.
package ioadapter

import (
	"context"

	"github.com/efspurge/efspurge/internal/backend"
)

type opKind int

const (
	opScanDir opKind = iota
	opStat
	opUnlink
	opRmdir
	opIsLink
	opExists
)

type request struct {
	kind     opKind
	path     string
	response chan result
}

type result struct {
	entries []backend.DirEntry
	meta    backend.FileMeta
	boolv   bool
	err     error
}

// Adapter runs a fixed pool of workers, each pulling requests off a shared
// channel and executing them against the underlying Backend. Callers block
// on their own response channel, which is exactly the suspension point the
// orchestration model requires: the calling goroutine parks while the
// worker pool does the blocking syscall.
type Adapter struct {
	backend backend.Backend
	reqCh   chan request
	done    chan struct{}
}

// New starts an Adapter with workers goroutines reading from a shared
// request channel, wrapping the given Backend (os-backed if b is nil).
func New(ctx context.Context, b backend.Backend, workers int) *Adapter {
	if b == nil {
		b = backend.New()
	}
	if workers < 1 {
		workers = 1
	}
	a := &Adapter{
		backend: b,
		reqCh:   make(chan request),
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go a.worker(ctx)
	}
	return a
}

// Close signals the worker pool to stop accepting new requests. In-flight
// requests already picked up by a worker still complete.
func (a *Adapter) Close() {
	close(a.done)
}

func (a *Adapter) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case req := <-a.reqCh:
			req.response <- a.execute(req)
		}
	}
}

func (a *Adapter) execute(req request) result {
	switch req.kind {
	case opScanDir:
		entries, err := a.backend.ScanDir(req.path)
		return result{entries: entries, err: err}
	case opStat:
		meta, err := a.backend.Stat(req.path)
		return result{meta: meta, err: err}
	case opUnlink:
		return result{err: a.backend.Unlink(req.path)}
	case opRmdir:
		return result{err: a.backend.Rmdir(req.path)}
	case opIsLink:
		isLink, err := a.backend.IsLink(req.path)
		return result{boolv: isLink, err: err}
	case opExists:
		return result{boolv: a.backend.Exists(req.path)}
	default:
		return result{}
	}
}

func (a *Adapter) submit(ctx context.Context, kind opKind, path string) (result, error) {
	req := request{kind: kind, path: path, response: make(chan result, 1)}
	select {
	case <-ctx.Done():
		return result{}, ctx.Err()
	case a.reqCh <- req:
	}
	select {
	case <-ctx.Done():
		return result{}, ctx.Err()
	case res := <-req.response:
		return res, nil
	}
}

// ScanDir lists the immediate children of path.
func (a *Adapter) ScanDir(ctx context.Context, path string) ([]backend.DirEntry, error) {
	res, err := a.submit(ctx, opScanDir, path)
	if err != nil {
		return nil, err
	}
	return res.entries, res.err
}

// Stat returns metadata for path.
func (a *Adapter) Stat(ctx context.Context, path string) (backend.FileMeta, error) {
	res, err := a.submit(ctx, opStat, path)
	if err != nil {
		return backend.FileMeta{}, err
	}
	return res.meta, res.err
}

// Unlink removes a regular file.
func (a *Adapter) Unlink(ctx context.Context, path string) error {
	res, err := a.submit(ctx, opUnlink, path)
	if err != nil {
		return err
	}
	return res.err
}

// Rmdir removes an empty directory.
func (a *Adapter) Rmdir(ctx context.Context, path string) error {
	res, err := a.submit(ctx, opRmdir, path)
	if err != nil {
		return err
	}
	return res.err
}

// IsLink reports whether path is itself a symbolic link.
func (a *Adapter) IsLink(ctx context.Context, path string) (bool, error) {
	res, err := a.submit(ctx, opIsLink, path)
	if err != nil {
		return false, err
	}
	return res.boolv, res.err
}

// Exists reports whether path exists.
func (a *Adapter) Exists(ctx context.Context, path string) bool {
	res, err := a.submit(ctx, opExists, path)
	if err != nil {
		return false
	}
	return res.boolv
}
