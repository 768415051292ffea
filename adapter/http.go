// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi"
)

// HTTPServer is the repository's one HTTP-facing adapter: a plain
// net/http.Server routed by chi.Router. spec.md §1 lists "HTTP
// compliance" as a non-goal for the core, so this stays outside the
// reactor entirely and is used for the process's own observability
// surface (see NewCountersRouter) rather than for session traffic.
type HTTPServer struct {
	Router chi.Router

	srv *http.Server
	err error
	wg  sync.WaitGroup
}

// NewCountersRouter builds a chi.Router exposing a single endpoint,
// GET /counters, which calls snapshot and writes the result as JSON.
// This is the concrete home for spec.md §6's "exposed operational
// counters" in a running process.
func NewCountersRouter(snapshot func() Counters) chi.Router {
	r := chi.NewRouter()
	r.Get("/counters", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot())
	})
	return r
}

// Start blocks serving Router on addr until ctx is cancelled or
// ListenAndServe fails for a reason other than a deliberate Shutdown.
func (hs *HTTPServer) Start(ctx context.Context, addr string) error {
	hs.srv = &http.Server{Addr: addr, Handler: hs.Router}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return hs.stop(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Stop gracefully shuts the HTTP server down.
func (hs *HTTPServer) Stop(ctx context.Context) error {
	return hs.stop(ctx)
}

func (hs *HTTPServer) stop(ctx context.Context) error {
	if hs.srv == nil {
		return nil
	}
	return hs.srv.Shutdown(ctx)
}

// Shutdown is the non-error-returning counterpart to Stop, matching
// the teacher's Adapter shape.
func (hs *HTTPServer) Shutdown() {
	hs.stop(context.Background())
}

// AsyncStart runs Start on its own goroutine, capturing its error for
// Wait.
func (hs *HTTPServer) AsyncStart(ctx context.Context, addr string) {
	hs.wg.Add(1)
	go func() {
		defer hs.wg.Done()
		hs.err = hs.Start(ctx, addr)
	}()
}

// Wait blocks until the goroutine started by AsyncStart returns.
func (hs *HTTPServer) Wait() error {
	hs.wg.Wait()
	return hs.err
}
