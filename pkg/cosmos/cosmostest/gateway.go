// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package cosmostest provides an in-memory Cosmos DB gateway for tests. It
// verifies master-key signatures and implements the subset of the REST API
// used by package cosmos.
package cosmostest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/go-core-stack/cosmos-proxy/pkg/auth"
)

// MasterKey is the base64 account key the gateway accepts.
const MasterKey = "dGVzdC1tYXN0ZXIta2V5LWZvci1jb3Ntb3N0ZXN0"

// Gateway is a running fake account endpoint.
type Gateway struct {
	*httptest.Server

	// PageSize caps the number of documents per query page.
	PageSize int

	signer *auth.Signer

	mu       sync.Mutex
	dbs      map[string]map[string][]map[string]any
	requests map[string]int
	failure  *failure
}

type failure struct {
	status  int
	code    string
	message string
}

// NewGateway starts a gateway. Close it when done.
func NewGateway() *Gateway {
	signer, err := auth.NewSigner(MasterKey)
	if err != nil {
		panic(fmt.Sprintf("cosmostest: %v", err))
	}
	g := &Gateway{
		PageSize: 2,
		signer:   signer,
		dbs:      make(map[string]map[string][]map[string]any),
		requests: make(map[string]int),
	}

	router := mux.NewRouter()
	router.Use(g.authenticate)
	router.HandleFunc("/dbs", g.createDatabase).Methods(http.MethodPost)
	router.HandleFunc("/dbs/{db}", g.readDatabase).Methods(http.MethodGet)
	router.HandleFunc("/dbs/{db}/colls", g.createCollection).Methods(http.MethodPost)
	router.HandleFunc("/dbs/{db}/colls/{coll}", g.readCollection).Methods(http.MethodGet)
	router.HandleFunc("/dbs/{db}/colls/{coll}/docs", g.documents).Methods(http.MethodPost)

	g.Server = httptest.NewServer(router)
	return g
}

// Requests returns how many requests matched method and path.
func (g *Gateway) Requests(method, path string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[method+" "+path]
}

// Documents returns a copy of what is stored in db/coll.
func (g *Gateway) Documents(db, coll string) []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]map[string]any, len(g.dbs[db][coll]))
	copy(out, g.dbs[db][coll])
	return out
}

// DropDatabase deletes db and everything in it, as if removed out of band.
func (g *Gateway) DropDatabase(db string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.dbs, db)
}

// Fail makes every subsequent request answer with status and message.
func (g *Gateway) Fail(status int, code, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failure = &failure{status: status, code: code, message: message}
}

// Recover undoes Fail.
func (g *Gateway) Recover() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failure = nil
}

func (g *Gateway) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.requests[r.Method+" "+r.URL.Path]++
		fail := g.failure
		g.mu.Unlock()

		if fail != nil {
			writeError(w, fail.status, fail.code, fail.message)
			return
		}

		if r.Header.Get("x-ms-version") == "" {
			writeError(w, http.StatusBadRequest, "BadRequest", "missing x-ms-version header")
			return
		}
		date := r.Header.Get(auth.HeaderDate)
		if _, err := time.Parse(http.TimeFormat, date); err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid x-ms-date header")
			return
		}
		resourceType, resourceLink := resourceOf(r.URL.Path)
		want, err := g.signer.Token(r.Method, resourceType, resourceLink, date)
		if err != nil || r.Header.Get(auth.HeaderAuthorization) != want {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "The input authorization token can't serve the request.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resourceOf derives the signed resource type and link from a request path:
// a path naming a resource signs its own link, a path naming a feed signs
// the parent link.
func resourceOf(path string) (string, string) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments)%2 == 0 {
		return segments[len(segments)-2], strings.Join(segments, "/")
	}
	return segments[len(segments)-1], strings.Join(segments[:len(segments)-1], "/")
}

func (g *Gateway) createDatabase(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid database definition")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.dbs[body.ID]; ok {
		writeError(w, http.StatusConflict, "Conflict", "Resource with specified id or name already exists.")
		return
	}
	g.dbs[body.ID] = make(map[string][]map[string]any)
	writeJSON(w, http.StatusCreated, map[string]any{"id": body.ID, "_self": "dbs/" + body.ID + "/"})
}

func (g *Gateway) readDatabase(w http.ResponseWriter, r *http.Request) {
	db := mux.Vars(r)["db"]

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.dbs[db]; !ok {
		writeError(w, http.StatusNotFound, "NotFound", "Resource Not Found.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": db})
}

func (g *Gateway) createCollection(w http.ResponseWriter, r *http.Request) {
	db := mux.Vars(r)["db"]
	var body struct {
		ID           string `json:"id"`
		PartitionKey struct {
			Paths []string `json:"paths"`
			Kind  string   `json:"kind"`
		} `json:"partitionKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid collection definition")
		return
	}
	if len(body.PartitionKey.Paths) != 1 || body.PartitionKey.Paths[0] != "/id" {
		writeError(w, http.StatusBadRequest, "BadRequest", "partition key must be /id")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	colls, ok := g.dbs[db]
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "Owner resource does not exist")
		return
	}
	if _, ok := colls[body.ID]; ok {
		writeError(w, http.StatusConflict, "Conflict", "Resource with specified id or name already exists.")
		return
	}
	colls[body.ID] = []map[string]any{}
	writeJSON(w, http.StatusCreated, map[string]any{"id": body.ID})
}

func (g *Gateway) readCollection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.dbs[vars["db"]][vars["coll"]]; !ok {
		writeError(w, http.StatusNotFound, "NotFound", "Resource Not Found.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": vars["coll"]})
}

func (g *Gateway) documents(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.Header.Get("x-ms-documentdb-isquery"), "true") {
		g.query(w, r)
		return
	}
	g.createDocument(w, r)
}

func (g *Gateway) createDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var doc map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid document")
		return
	}
	id, ok := doc["id"].(string)
	if !ok || id == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "The input content is invalid because the required properties - 'id; ' - are missing")
		return
	}
	var pk []string
	if err := json.Unmarshal([]byte(r.Header.Get("x-ms-documentdb-partitionkey")), &pk); err != nil || len(pk) != 1 || pk[0] != id {
		writeError(w, http.StatusBadRequest, "BadRequest", "PartitionKey extracted from document doesn't match the one specified in the header")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	colls, ok := g.dbs[vars["db"]]
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "Owner resource does not exist")
		return
	}
	docs, ok := colls[vars["coll"]]
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "Owner resource does not exist")
		return
	}
	for _, existing := range docs {
		if existing["id"] == id {
			writeError(w, http.StatusConflict, "Conflict", "Entity with the specified id already exists in the system.")
			return
		}
	}

	seq := len(docs) + 1
	doc["_rid"] = fmt.Sprintf("rid-%d", seq)
	doc["_self"] = fmt.Sprintf("dbs/%s/colls/%s/docs/rid-%d/", vars["db"], vars["coll"], seq)
	doc["_etag"] = fmt.Sprintf("\"etag-%d\"", seq)
	doc["_attachments"] = "attachments/"
	doc["_ts"] = time.Now().Unix()
	colls[vars["coll"]] = append(docs, doc)

	writeJSON(w, http.StatusCreated, doc)
}

func (g *Gateway) query(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if ct := r.Header.Get("Content-Type"); ct != "application/query+json" {
		writeError(w, http.StatusBadRequest, "BadRequest", "unsupported content type "+ct)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "unreadable query")
		return
	}
	var spec struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(body, &spec); err != nil || !strings.EqualFold(strings.TrimSpace(spec.Query), "SELECT * FROM c") {
		writeError(w, http.StatusBadRequest, "BadRequest", "only SELECT * FROM c is supported")
		return
	}

	offset := 0
	if token := r.Header.Get("x-ms-continuation"); token != "" {
		offset, err = strconv.Atoi(token)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "BadRequest", "invalid continuation token")
			return
		}
	}

	g.mu.Lock()
	docs, ok := g.dbs[vars["db"]][vars["coll"]]
	page := []map[string]any{}
	next := ""
	if ok && offset < len(docs) {
		end := len(docs)
		if g.PageSize > 0 && offset+g.PageSize < end {
			end = offset + g.PageSize
			next = strconv.Itoa(end)
		}
		page = append(page, docs[offset:end]...)
	}
	g.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "Resource Not Found.")
		return
	}
	if next != "" {
		w.Header().Set("x-ms-continuation", next)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"_rid":      "coll-rid",
		"Documents": page,
		"_count":    len(page),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
