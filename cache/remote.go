package cache

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/stagecoach-run/stagecoach/workflow"
)

// errNotInRemote marks a clean remote miss, as opposed to a remote failure.
var errNotInRemote = errors.New("key not in remote cache")

// RemoteStore layers an HTTP tier behind the local store. Entries travel as
// tar archives under GET and PUT <base>/cache/<key>.tar. The remote only
// accelerates: every failure degrades to the local answer, with a single
// warning for the whole run.
type RemoteStore struct {
	local   *DirStore
	base    string
	client  *http.Client
	push    bool
	retries uint64
	log     *slog.Logger

	warned atomic.Bool
}

// RemoteOptions configures the remote tier.
type RemoteOptions struct {
	// BaseURL is the cache service root, for example http://cache.internal:9200.
	BaseURL string
	// Push uploads entries after each local Put.
	Push bool
	// Client defaults to an http.Client with a 30 second timeout.
	Client *http.Client
	// Retries bounds the exponential backoff per request.
	Retries uint64
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewRemoteStore wires the remote tier over local.
func NewRemoteStore(local *DirStore, opts RemoteOptions) *RemoteStore {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	retries := opts.Retries
	if retries == 0 {
		retries = 3
	}
	return &RemoteStore{
		local:   local,
		base:    strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
		push:    opts.Push,
		retries: retries,
		log:     log,
	}
}

func (r *RemoteStore) url(key string) string {
	return r.base + "/cache/" + key + ".tar"
}

// Get checks the local tier first, then the remote. A remote hit is imported
// into the local store before it is returned.
func (r *RemoteStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	entry, ok, err := r.local.Get(ctx, key)
	if err != nil || ok {
		return entry, ok, err
	}

	raw, err := r.fetch(ctx, key)
	if errors.Is(err, errNotInRemote) {
		return nil, false, nil
	}
	if err != nil {
		r.degrade("get", err)
		return nil, false, nil
	}

	entry, err = r.local.importTar(raw)
	if err != nil {
		r.degrade("import", err)
		return nil, false, nil
	}
	return entry, true, nil
}

func (r *RemoteStore) fetch(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url(key), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			return backoff.Permanent(errNotInRemote)
		default:
			return errors.Errorf("remote cache returned %s", resp.Status)
		}
		raw, err = io.ReadAll(resp.Body)
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.retries), ctx)); err != nil {
		return nil, err
	}
	return raw, nil
}

// Put stores locally, then pushes to the remote when push is on.
func (r *RemoteStore) Put(ctx context.Context, key string, task *workflow.Task) (*Entry, error) {
	entry, err := r.local.Put(ctx, key, task)
	if err != nil || !r.push {
		return entry, err
	}

	raw, err := r.local.exportTar(entry)
	if err != nil {
		r.degrade("export", err)
		return entry, nil
	}
	if err := r.upload(ctx, key, raw); err != nil {
		r.degrade("push", err)
	}
	return entry, nil
}

func (r *RemoteStore) upload(ctx context.Context, key string, raw []byte) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.url(key), bytes.NewReader(raw))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-tar")
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return errors.Errorf("remote cache returned %s", resp.Status)
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.retries), ctx))
}

// Restore delegates to the local tier; Get already imported the entry.
func (r *RemoteStore) Restore(entry *Entry) error {
	return r.local.Restore(entry)
}

func (r *RemoteStore) degrade(op string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if r.warned.Swap(true) {
		return
	}
	r.log.Warn("remote cache unavailable, continuing with the local tier", "op", op, "error", err)
}
