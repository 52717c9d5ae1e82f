// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package cosmos

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-core-stack/cosmos-proxy/pkg/auth"
)

const (
	// APIVersion is the REST API version sent on every request.
	APIVersion = "2018-12-31"

	// PartitionKeyPath is the partition key of collections created by this client.
	PartitionKeyPath = "/id"

	headerVersion        = "x-ms-version"
	headerContinuation   = "x-ms-continuation"
	headerIsQuery        = "x-ms-documentdb-isquery"
	headerCrossPartition = "x-ms-documentdb-query-enablecrosspartition"
	headerPartitionKey   = "x-ms-documentdb-partitionkey"

	contentTypeJSON  = "application/json"
	contentTypeQuery = "application/query+json"

	resourceDatabases   = "dbs"
	resourceCollections = "colls"
	resourceDocuments   = "docs"

	tracerName = "github.com/go-core-stack/cosmos-proxy/pkg/cosmos"
)

// Options tunes the outbound HTTP behaviour of a Client.
type Options struct {
	// RequestTimeout bounds every round trip to the service.
	RequestTimeout time.Duration
	// InsecureSkipVerify disables TLS verification, for the local emulator.
	InsecureSkipVerify bool
}

// Client talks to one Cosmos DB account. It holds no per-request state and is
// safe for concurrent use.
type Client struct {
	// endpoint is the account URL every resource path is resolved against.
	endpoint *url.URL
	// client performs outbound HTTP requests with tuned transport settings.
	client *http.Client
	// signer produces the master-key authorization header.
	signer *auth.Signer
	// logger emits structured logs for observability.
	logger zerolog.Logger
	tracer trace.Tracer
}

// New constructs a Client for the account at endpoint, authenticated with the
// base64 master key.
func New(endpoint, masterKey string, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, errors.New("endpoint must be absolute (scheme://host)")
	}

	signer, err := auth.NewSigner(masterKey)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, // nolint:gosec -- opt-in for the emulator
		},
	}

	return &Client{
		endpoint: base,
		client: &http.Client{
			Timeout:   opts.RequestTimeout,
			Transport: transport,
		},
		signer: signer,
		logger: log.With().Str("component", "cosmos").Logger(),
		tracer: otel.Tracer(tracerName),
	}, nil
}

// CreateDatabaseIfNotExists reads the database and creates it when absent.
// A conflict on create means a concurrent caller won the race and is success.
func (c *Client) CreateDatabaseIfNotExists(ctx context.Context, id string) (err error) {
	ctx, span := c.startSpan(ctx, "CreateDatabaseIfNotExists", attribute.String("db.name", id))
	defer func() { endSpan(span, err) }()

	link := databaseLink(id)
	_, err = c.do(ctx, http.MethodGet, resourceDatabases, link, link, nil, nil)
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return fmt.Errorf("read database %q: %w", id, err)
	}

	body, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return fmt.Errorf("encode database %q: %w", id, err)
	}
	_, err = c.do(ctx, http.MethodPost, resourceDatabases, "", resourceDatabases, body, nil)
	if err != nil && !IsConflict(err) {
		return fmt.Errorf("create database %q: %w", id, err)
	}
	c.logger.Info().Str("database", id).Msg("database provisioned")
	return nil
}

// CreateCollectionIfNotExists reads the collection and creates it, hash
// partitioned on PartitionKeyPath, when absent.
func (c *Client) CreateCollectionIfNotExists(ctx context.Context, database, id string) (err error) {
	ctx, span := c.startSpan(ctx, "CreateCollectionIfNotExists",
		attribute.String("db.name", database),
		attribute.String("db.collection.name", id))
	defer func() { endSpan(span, err) }()

	link := collectionLink(database, id)
	_, err = c.do(ctx, http.MethodGet, resourceCollections, link, link, nil, nil)
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return fmt.Errorf("read collection %q: %w", id, err)
	}

	body, err := json.Marshal(collectionDefinition{
		ID: id,
		PartitionKey: partitionKeyDefinition{
			Paths: []string{PartitionKeyPath},
			Kind:  "Hash",
		},
	})
	if err != nil {
		return fmt.Errorf("encode collection %q: %w", id, err)
	}
	parent := databaseLink(database)
	_, err = c.do(ctx, http.MethodPost, resourceCollections, parent, parent+"/"+resourceCollections, body, nil)
	if err != nil && !IsConflict(err) {
		return fmt.Errorf("create collection %q: %w", id, err)
	}
	c.logger.Info().Str("database", database).Str("collection", id).Msg("collection provisioned")
	return nil
}

// CreateDocument stores doc in the collection and returns the stored form,
// including service generated system properties. doc must carry a string id,
// which is also its partition key value.
func (c *Client) CreateDocument(ctx context.Context, database, collection string, doc map[string]any) (stored json.RawMessage, err error) {
	ctx, span := c.startSpan(ctx, "CreateDocument",
		attribute.String("db.name", database),
		attribute.String("db.collection.name", collection))
	defer func() { endSpan(span, err) }()

	id, ok := doc["id"].(string)
	if !ok {
		return nil, errors.New("document id must be a string")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	pk, err := json.Marshal([]string{id})
	if err != nil {
		return nil, fmt.Errorf("encode partition key: %w", err)
	}

	header := http.Header{}
	header.Set(headerPartitionKey, string(pk))

	link := collectionLink(database, collection)
	resp, err := c.do(ctx, http.MethodPost, resourceDocuments, link, link+"/"+resourceDocuments, body, header)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return json.RawMessage(resp.body), nil
}

// QueryDocuments runs query across all partitions of the collection and
// follows continuation tokens until the result set is exhausted. An empty
// result is a non-nil empty slice.
func (c *Client) QueryDocuments(ctx context.Context, database, collection, query string) (docs []json.RawMessage, err error) {
	ctx, span := c.startSpan(ctx, "QueryDocuments",
		attribute.String("db.name", database),
		attribute.String("db.collection.name", collection),
		attribute.String("db.query.text", query))
	defer func() { endSpan(span, err) }()

	body, err := json.Marshal(querySpec{Query: query, Parameters: []queryParameter{}})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	link := collectionLink(database, collection)
	docs = make([]json.RawMessage, 0)
	continuation := ""
	for page := 1; ; page++ {
		header := http.Header{}
		header.Set("Content-Type", contentTypeQuery)
		header.Set(headerIsQuery, "True")
		header.Set(headerCrossPartition, "True")
		if continuation != "" {
			header.Set(headerContinuation, continuation)
		}

		resp, err := c.do(ctx, http.MethodPost, resourceDocuments, link, link+"/"+resourceDocuments, body, header)
		if err != nil {
			return nil, fmt.Errorf("query documents: %w", err)
		}

		var result queryResult
		if err := json.Unmarshal(resp.body, &result); err != nil {
			return nil, fmt.Errorf("decode query page %d: %w", page, err)
		}
		docs = append(docs, result.Documents...)

		continuation = resp.header.Get(headerContinuation)
		if continuation == "" {
			span.SetAttributes(
				attribute.Int("db.query.pages", page),
				attribute.Int("db.response.returned_rows", len(docs)))
			return docs, nil
		}
	}
}

// response is a fully read 2xx answer from the service.
type response struct {
	header http.Header
	body   []byte
}

// do signs and performs one request. path is resolved against the endpoint,
// resourceType and resourceLink feed the authorization signature.
func (c *Client) do(ctx context.Context, method, resourceType, resourceLink, path string, body []byte, header http.Header) (*response, error) {
	start := time.Now()
	target := c.endpoint.ResolveReference(&url.URL{Path: path})

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set(headerVersion, APIVersion)

	if err := c.signer.AttachSignature(req, resourceType, resourceLink); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	event := c.logger.With().
		Str("method", method).
		Str("path", target.Path).
		Logger()

	resp, err := c.client.Do(req)
	if err != nil {
		event.Error().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("cosmos request failed")
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			event.Error().
				Err(closeErr).
				Msg("close response body failed")
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		cerr := parseError(resp.StatusCode, payload)
		level := zerolog.WarnLevel
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict {
			// expected while provisioning
			level = zerolog.DebugLevel
		}
		event.WithLevel(level).
			Int("status", resp.StatusCode).
			Str("code", cerr.Code).
			Dur("duration", time.Since(start)).
			Msg("cosmos returned error")
		return nil, cerr
	}

	event.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("cosmos request completed")

	return &response{header: resp.Header, body: payload}, nil
}

func (c *Client) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("db.system", "cosmosdb"),
		attribute.String("db.operation.name", op))
	return c.tracer.Start(ctx, "cosmos."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func databaseLink(id string) string {
	return resourceDatabases + "/" + id
}

func collectionLink(database, id string) string {
	return databaseLink(database) + "/" + resourceCollections + "/" + id
}

type partitionKeyDefinition struct {
	Paths []string `json:"paths"`
	Kind  string   `json:"kind"`
}

type collectionDefinition struct {
	ID           string                 `json:"id"`
	PartitionKey partitionKeyDefinition `json:"partitionKey"`
}

type queryParameter struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type querySpec struct {
	Query      string           `json:"query"`
	Parameters []queryParameter `json:"parameters"`
}

type queryResult struct {
	Documents []json.RawMessage `json:"Documents"`
}
