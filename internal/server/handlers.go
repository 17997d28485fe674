package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/copyleftdev/dualfit/internal/errors"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type idParams struct {
	ID string `json:"fit_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxScriptBytes+4096)

	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "fit.start":
		var params StartRequest
		if err = decodeParams(request.Params, &params); err == nil {
			result, err = s.startFit(params)
		}
	case "fit.status":
		var params idParams
		if err = decodeParams(request.Params, &params); err == nil {
			result, err = s.status(params.ID)
		}
	case "fit.cancel":
		var params idParams
		if err = decodeParams(request.Params, &params); err == nil {
			if err = s.cancelFit(params.ID); err == nil {
				result = map[string]string{"fit_id": params.ID, "status": StatusCancelled}
			}
		}
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			s.respondWithError(w, apiErr.code, apiErr.message, request.ID)
			return
		}
		s.respondWithError(w, codeServerError, "Server error", request.ID)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// decodeParams accepts params as an object or as an array holding one
// object.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return invalidParams("missing params")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) != 1 {
			return invalidParams("params must be an object or a one-element array")
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams("invalid params: " + err.Error())
	}
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("Request error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}

// respondWithAPIError answers a REST request with the status of err.
// Errors other than apiError are mapped by kind.
func (s *Server) respondWithAPIError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		status = apiErr.status
	}
	s.respondJSON(w, status, map[string]interface{}{
		"error": err.Error(),
	})
}

// handleStart handles POST /api/v1/fit.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxScriptBytes+4096)

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]interface{}{
				"error": "request body too large",
			})
			return
		}
		s.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	result, err := s.startFit(req)
	if err != nil {
		s.respondWithAPIError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, result)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.status(chi.URLParam(r, "id"))
	if err != nil {
		s.respondWithAPIError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleCancel handles DELETE /api/v1/fit/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cancelFit(id); err != nil {
		s.respondWithAPIError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"fit_id": id,
		"status": StatusCancelled,
	})
}
