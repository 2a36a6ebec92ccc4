package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rin/circuitbreaker"
	"rin/logger"
	"rin/metrics"
	"rin/pipeline"
	"rin/report"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxRequestBytes = 10 << 20

const normalizeRequestSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"markdown": {"type": "string"}
	},
	"required": ["markdown"],
	"additionalProperties": false
}`

var normalizeSchema = mustCompileSchema("normalize-request.json", normalizeRequestSchema)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("invalid schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// decodeNormalizeRequest validates body against the request schema before
// decoding it
func decodeNormalizeRequest(body []byte) (NormalizeRequest, error) {
	var req NormalizeRequest

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return req, err
	}
	if err := normalizeSchema.Validate(payload); err != nil {
		return req, schemaError(err)
	}

	err := json.NewDecoder(bytes.NewReader(body)).Decode(&req)
	return req, err
}

// schemaError flattens a validation error into "location: message" pairs
func schemaError(err error) error {
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return err
	}

	var issues []string
	var walk func(*jsonschema.ValidationError)
	walk = func(node *jsonschema.ValidationError) {
		if len(node.Causes) == 0 {
			location := node.InstanceLocation
			if location == "" {
				location = "#"
			}
			issues = append(issues, fmt.Sprintf("%s: %s", location, node.Message))
			return
		}
		for _, cause := range node.Causes {
			walk(cause)
		}
	}
	walk(validationErr)
	return errors.New(strings.Join(issues, "; "))
}

// NormalizeRequest is the body of POST /v1/normalize
type NormalizeRequest struct {
	Markdown string `json:"markdown"`
}

// NormalizeResponse carries the cleaned text and its run report
type NormalizeResponse struct {
	Markdown string                   `json:"markdown"`
	Report   *report.ValidationReport `json:"report"`
}

// Server exposes the pipeline over HTTP
type Server struct {
	pipeline  *pipeline.Pipeline
	metrics   *metrics.Recorder
	obsLogger *logger.ObservabilityLogger

	// Optional endpoint health for /health
	breaker   *circuitbreaker.HealthManager
	endpoints []string
}

// NewServer wires the HTTP surface around p
func NewServer(p *pipeline.Pipeline, recorder *metrics.Recorder, obsLogger *logger.ObservabilityLogger) *Server {
	if obsLogger == nil {
		obsLogger = logger.Discard()
	}
	return &Server{pipeline: p, metrics: recorder, obsLogger: obsLogger}
}

// WithEndpointHealth makes /health report circuit state for endpoints
func (s *Server) WithEndpointHealth(breaker *circuitbreaker.HealthManager, endpoints []string) *Server {
	s.breaker = breaker
	s.endpoints = endpoints
	return s
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/normalize", s.handleNormalize)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	var req NormalizeRequest
	if err == nil {
		req, err = decodeNormalizeRequest(body)
	}
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.obsLogger.Warn(logger.ComponentServer, logger.CategoryRequest, "", "Rejected normalize request", map[string]interface{}{
			"error": err.Error(),
		})
		writeError(w, status, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	text, rep := s.pipeline.Normalize(r.Context(), req.Markdown)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(NormalizeResponse{Markdown: text, Report: rep}); err != nil {
		s.obsLogger.Error(logger.ComponentServer, logger.CategoryError, rep.RunID, "Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	}
	if s.breaker != nil {
		endpoints := make([]circuitbreaker.EndpointHealth, 0, len(s.endpoints))
		for _, endpoint := range s.endpoints {
			if health, ok := s.breaker.Snapshot(endpoint); ok {
				endpoints = append(endpoints, health)
			}
		}
		body["endpoints"] = endpoints
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// handleRoot provides basic information about the service
func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{
	"service": "rin",
	"version": %q,
	"status": "running",
	"endpoints": [
		"GET /health - Health check",
		"GET /metrics - Prometheus metrics",
		"POST /v1/normalize - Normalise markdown fences"
	]
}`, Version)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
