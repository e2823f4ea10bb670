// Package main provides an HTTP API server exercising the BPTree library.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/oda/bptree"
)

// Server holds the Tree instance and provides HTTP handlers. The core
// Tree itself is single-threaded; the mutex here serializes concurrent
// HTTP handlers into that single-threaded contract.
type Server struct {
	tree *bptree.Tree
	path string
	mu   sync.RWMutex
}

// Response is a generic JSON response envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StatusResponse contains database status information.
type StatusResponse struct {
	Connected bool   `json:"connected"`
	Path      string `json:"path,omitempty"`
	Count     int    `json:"count,omitempty"`
}

// KeyValue represents a key-value pair.
type KeyValue struct {
	Key   uint64 `json:"key"`
	Value uint64 `json:"value"`
}

// PutRequest is the request body for PUT operations.
type PutRequest struct {
	Key   uint64 `json:"key"`
	Value uint64 `json:"value"`
}

// OpenRequest is the request body for opening a database file.
type OpenRequest struct {
	Path string `json:"path"`
}

// RangeResult contains the results of a range scan.
type RangeResult struct {
	Items []KeyValue `json:"items"`
	Count int        `json:"count"`
}

var server = &Server{}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if dbPath := os.Getenv("BPTREE_DB_PATH"); dbPath != "" {
		tree, err := bptree.Open(dbPath)
		if err != nil {
			log.Fatalf("failed to open %s: %v", dbPath, err)
		}
		server.tree = tree
		server.path = dbPath
	}

	corsHandler := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			h(w, r)
		}
	}

	http.HandleFunc("/status", corsHandler(server.handleStatus))
	http.HandleFunc("/open", corsHandler(server.handleOpen))
	http.HandleFunc("/close", corsHandler(server.handleClose))
	http.HandleFunc("/get", corsHandler(server.handleGet))
	http.HandleFunc("/put", corsHandler(server.handlePut))
	http.HandleFunc("/delete", corsHandler(server.handleDelete))
	http.HandleFunc("/range", corsHandler(server.handleRange))
	http.HandleFunc("/count", corsHandler(server.handleCount))
	http.HandleFunc("/flush", corsHandler(server.handleFlush))

	log.Printf("bptree API server starting on port %s...\n", port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := StatusResponse{Connected: s.tree != nil, Path: s.path}
	if s.tree != nil {
		status.Count = s.tree.Count()
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: status})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid request body"})
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, Response{Error: "path is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree != nil {
		s.tree.Close()
	}

	tree, err := bptree.Open(req.Path)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: fmt.Sprintf("failed to open database: %v", err)})
		return
	}

	s.tree = tree
	s.path = req.Path
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    StatusResponse{Connected: true, Path: req.Path, Count: tree.Count()},
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no database open"})
		return
	}
	if err := s.tree.Close(); err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: fmt.Sprintf("failed to close: %v", err)})
		return
	}
	s.tree = nil
	s.path = ""
	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	key, err := strconv.ParseUint(r.URL.Query().Get("key"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid key"})
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no database open"})
		return
	}
	val, found := s.tree.Get(key)
	if !found {
		writeJSON(w, http.StatusNotFound, Response{Error: "key not found"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: KeyValue{Key: key, Value: val}})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	var req PutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid request body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no database open"})
		return
	}
	if err := s.tree.Put(req.Key, req.Value); err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: fmt.Sprintf("put failed: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: KeyValue{Key: req.Key, Value: req.Value}})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	key, err := strconv.ParseUint(r.URL.Query().Get("key"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid key"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no database open"})
		return
	}
	deleted := s.tree.Delete(key)
	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]bool{"deleted": deleted}})
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	start, err := strconv.ParseUint(r.URL.Query().Get("start"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid start"})
		return
	}
	end, err := strconv.ParseUint(r.URL.Query().Get("end"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid end"})
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no database open"})
		return
	}

	var items []KeyValue
	err = s.tree.Range(start, end, func(key, value uint64) bool {
		items = append(items, KeyValue{Key: key, Value: value})
		return true
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: fmt.Sprintf("range failed: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: RangeResult{Items: items, Count: len(items)}})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no database open"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]int{"count": s.tree.Count()}})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no database open"})
		return
	}
	if err := s.tree.Flush(); err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: fmt.Sprintf("flush failed: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true})
}
