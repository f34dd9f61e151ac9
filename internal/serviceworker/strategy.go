package serviceworker

import (
	"context"
	"net/http"

	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/logger"
)

// SourceHeader tells the client where an intercepted response came from.
const SourceHeader = "X-Staysense-Source"

// Response sources reported in SourceHeader.
const (
	SourceNetwork = "network"
	SourceCache   = "cache"
	SourceShell   = "shell"
	SourceOffline = "offline"
)

// Handle answers an intercepted request. It reports false when the request
// is not intercepted and must go to the network unchanged. When it reports
// true the returned response is never nil.
func (w *Worker) Handle(ctx context.Context, r *http.Request) (*Response, bool) {
	if w.State() != StateActivated {
		return nil, false
	}
	strategy := Classify(r.Method, r.URL.Path)
	var resp *Response
	switch strategy {
	case StrategyCacheFirst:
		resp = w.cacheFirst(ctx, r)
	case StrategyNetworkFirst:
		resp = w.networkFirst(ctx, r, false)
	case StrategyPage:
		resp = w.networkFirst(ctx, r, true)
	default:
		return nil, false
	}
	w.metrics.WorkerRequest(string(strategy), resp.Header.Get(SourceHeader))
	return resp, true
}

func (w *Worker) cacheFirst(ctx context.Context, r *http.Request) *Response {
	key := RequestKey(r)
	if cached := w.match(ctx, key); cached != nil {
		return withSource(cached, SourceCache)
	}

	resp, err := w.fetcher.Fetch(ctx, r)
	if err != nil {
		w.logger.Debug("cache-first miss while offline", logger.String("key", key), logger.Error(err))
		return offlineJSON()
	}
	w.store(ctx, key, resp)
	return withSource(resp, SourceNetwork)
}

func (w *Worker) networkFirst(ctx context.Context, r *http.Request, page bool) *Response {
	key := RequestKey(r)
	resp, err := w.fetcher.Fetch(ctx, r)
	if err == nil {
		w.store(ctx, key, resp)
		return withSource(resp, SourceNetwork)
	}

	w.logger.Debug("network unavailable, trying cache", logger.String("key", key), logger.Error(err))
	if cached := w.match(ctx, key); cached != nil {
		return withSource(cached, SourceCache)
	}
	if !page {
		return offlineJSON()
	}
	if shell := w.matchIn(ctx, w.CoreName(), requestKey(http.MethodGet, w.cfg.ShellPath, "")); shell != nil {
		return withSource(shell, SourceShell)
	}
	return offlineHTML()
}

// match looks up key in the runtime partition, then the core partition.
func (w *Worker) match(ctx context.Context, key string) *Response {
	if resp := w.matchIn(ctx, w.RuntimeName(), key); resp != nil {
		return resp
	}
	return w.matchIn(ctx, w.CoreName(), key)
}

func (w *Worker) matchIn(ctx context.Context, partition, key string) *Response {
	resp, err := w.storage.Match(ctx, partition, key)
	if err != nil {
		if !errors.Is(err, ErrNotCached) {
			w.logger.Warn("cache lookup failed",
				logger.String("partition", partition),
				logger.String("key", key),
				logger.Error(err))
		}
		return nil
	}
	return resp
}

// store keeps a copy of a 2xx response in the runtime partition.
func (w *Worker) store(ctx context.Context, key string, resp *Response) {
	if !resp.OK() {
		return
	}
	cp := resp.clone()
	cp.StoredAt = w.now().UTC()
	if err := w.storage.Put(ctx, w.RuntimeName(), key, cp); err != nil {
		w.logger.Warn("failed to cache response", logger.String("key", key), logger.Error(err))
	}
}

func withSource(resp *Response, source string) *Response {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.Header.Set(SourceHeader, source)
	return resp
}
