// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/cosmos-proxy/pkg/config"
	"github.com/go-core-stack/cosmos-proxy/pkg/cosmos"
)

const (
	// HealthMessage is the fixed body of GET /.
	HealthMessage = "✅ Cosmos DB Proxy is running."

	// selectAll is the only query GET /items runs.
	selectAll = "SELECT * FROM c"

	// maxItemBytes matches the service's 2 MiB document size limit.
	maxItemBytes = 2 << 20
)

// ItemStore is the document collection behind the proxy.
type ItemStore interface {
	CreateItem(ctx context.Context, item map[string]any) (json.RawMessage, error)
	QueryItems(ctx context.Context, query string) ([]json.RawMessage, error)
}

// Proxy serves the item routes on top of an ItemStore.
type Proxy struct {
	// store receives every item operation.
	store ItemStore
	// router dispatches on method and path.
	router *mux.Router
	// logger emits structured logs for observability.
	logger zerolog.Logger
}

// New constructs a Proxy backed by a Cosmos DB client for the configured
// account, targeting the fixed database and collection.
func New(cfg config.Config) (http.Handler, error) {
	client, err := cosmos.New(cfg.CosmosURI, cfg.CosmosKey, cosmos.Options{
		RequestTimeout:     cfg.RequestTimeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("create cosmos client: %w", err)
	}

	return NewWithStore(client.Container(config.DatabaseName, config.CollectionName)), nil
}

// NewWithStore constructs a Proxy on top of an arbitrary store.
func NewWithStore(store ItemStore) *Proxy {
	p := &Proxy{
		store:  store,
		logger: log.With().Str("component", "proxy").Logger(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/", p.health).Methods(http.MethodGet)
	router.HandleFunc("/items", p.createItem).Methods(http.MethodPost)
	router.HandleFunc("/items", p.listItems).Methods(http.MethodGet)
	p.router = router

	return p
}

// ServeHTTP dispatches the request and logs its outcome.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	event := p.logger.With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Logger()

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	p.router.ServeHTTP(rec, r.WithContext(event.WithContext(r.Context())))

	event.Info().
		Int("status", rec.status).
		Dur("duration", time.Since(start)).
		Msg("request served")
}

func (p *Proxy) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, HealthMessage); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("write health response failed")
	}
}

func (p *Proxy) createItem(w http.ResponseWriter, r *http.Request) {
	item, err := decodeItem(http.MaxBytesReader(w, r.Body, maxItemBytes))
	if err != nil {
		p.fail(w, r, fmt.Errorf("decode item: %w", err))
		return
	}

	stored, err := p.store.CreateItem(r.Context(), item)
	if err != nil {
		p.fail(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, stored)
}

func (p *Proxy) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := p.store.QueryItems(r.Context(), selectAll)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	if items == nil {
		items = []json.RawMessage{}
	}

	payload, err := json.Marshal(items)
	if err != nil {
		p.fail(w, r, fmt.Errorf("encode items: %w", err))
		return
	}

	writeJSON(w, r, http.StatusOK, payload)
}

// fail logs err and answers 500 with its message as plain text.
func (p *Proxy) fail(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().
		Err(err).
		Msg("item operation failed")
	http.Error(w, errorMessage(err), http.StatusInternalServerError)
}

// errorMessage prefers the service's own message over the wrapped Go error.
func errorMessage(err error) string {
	var cerr *cosmos.Error
	if errors.As(err, &cerr) {
		return cerr.Error()
	}
	return err.Error()
}

// decodeItem reads exactly one JSON object. Numbers are kept verbatim so
// large integers survive the round trip.
func decodeItem(body io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var item map[string]any
	if err := dec.Decode(&item); err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("request body must contain a single JSON object")
	}
	return item, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.Copy(w, bytes.NewReader(payload)); err != nil {
		zerolog.Ctx(r.Context()).Error().
			Err(err).
			Msg("write response failed")
	}
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader records status before delegating.
func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}
