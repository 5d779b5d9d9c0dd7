// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package enginetest

import (
	"context"
	"sync"
	"testing"

	jsworker "github.com/buke/js-worker"
	"github.com/stretchr/testify/require"
)

// WorkerScript answers every fetch with the request line, echoing the body
// and logging through console.
var WorkerScript = &jsworker.JsScript{
	FileName: "worker.js",
	Content: `
addEventListener('fetch', (event) => {
  const req = event.request;
  console.log('handling', req.method, req.url);
  event.respondWith((async () => {
    const body = await req.text();
    return new Response(req.method + ' ' + req.url + (body ? ' ' + body : ''), {
      status: 201,
      headers: { 'x-worker': 'yes' },
    });
  })());
});
`,
}

type recordingSink struct {
	mu      sync.Mutex
	records []jsworker.ConsoleRecord
}

func (s *recordingSink) WriteConsole(rec jsworker.ConsoleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *recordingSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Level + " " + rec.Message()
	}
	return out
}

// RunWorker drives WorkerScript through a default runtime and through an
// executor built on factory.
func RunWorker(t *testing.T, factory jsworker.EngineFactory) {
	t.Helper()

	t.Run("Runtime", func(t *testing.T) {
		sink := &recordingSink{}
		rt, err := jsworker.NewWithDefaults(factory, jsworker.WithConsoleSink(sink))
		require.NoError(t, err)
		defer rt.Close()

		require.NoError(t, rt.Load(context.Background(), WorkerScript))

		resp, err := rt.DispatchFetch(context.Background(), &jsworker.FetchRequest{
			Method: "post",
			URL:    "https://example.com/items",
			Body:   "payload",
		})
		require.NoError(t, err)
		require.Equal(t, 201, resp.Status)
		require.Equal(t, "Created", resp.StatusText)
		require.Equal(t, "POST https://example.com/items payload", resp.Body)
		require.Equal(t, "yes", resp.Headers["x-worker"])
		require.Equal(t, 0, rt.Pending())
		require.Equal(t, []string{"log handling POST https://example.com/items"}, sink.messages())
	})

	t.Run("Executor", func(t *testing.T) {
		sink := &recordingSink{}
		executor, err := jsworker.NewExecutor(
			jsworker.WithEngine(factory),
			jsworker.WithWorkerScripts(WorkerScript),
			jsworker.WithExecutorConsoleSink(sink),
			jsworker.WithMinPoolSize(1),
			jsworker.WithMaxPoolSize(2),
			jsworker.WithMaxExecutions(2),
		)
		require.NoError(t, err)
		require.NoError(t, executor.Start())
		defer executor.Stop()

		for i := 0; i < 3; i++ {
			resp, err := executor.Execute(&jsworker.Request{URL: "https://example.com/hello"})
			require.NoError(t, err)
			require.NotEmpty(t, resp.Id)
			require.Equal(t, 201, resp.Status)
			require.Equal(t, "GET https://example.com/hello", resp.Body)
		}
		require.Len(t, sink.messages(), 3)
	})
}
