package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shafiqahmeddev/lqap-project/protocol"
)

// NodeHandler exposes the edge node over HTTP.
type NodeHandler struct {
	node *Node
}

// NewNodeHandler creates the HTTP facade over a node.
func NewNodeHandler(node *Node) *NodeHandler {
	return &NodeHandler{node: node}
}

// RegisterRoutes registers the node endpoints.
func (h *NodeHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/enroll", h.handleEnroll)
	router.Get("/api/credential/challenge/{identity_id}", h.handleChallenge)
	router.Post("/api/credential", h.handleIssueCredential)
	router.Post("/api/session", h.handleStartSession)
	router.Post("/api/session/{session_id}/authenticate", h.handleAuthenticate)
	router.Get("/api/session/{session_id}", h.handleSessionStatus)
}

func (h *NodeHandler) handleEnroll(w http.ResponseWriter, req *http.Request) {
	enrollReq, err := protocol.DecodeMessage[EnrollmentRequest](req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	role, err := protocol.ParseRole(enrollReq.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	resp, err := h.node.Enroll(protocol.Identity{
		ID:         enrollReq.IdentityID,
		Role:       role,
		Domain:     enrollReq.Domain,
		EnrolledAt: time.Now().UTC(),
	})
	if err != nil {
		writeError(w, statusFor(err), err, protocol.ReasonFor(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *NodeHandler) handleChallenge(w http.ResponseWriter, req *http.Request) {
	challenge, err := h.node.PUFChallenge(chi.URLParam(req, "identity_id"))
	if err != nil {
		writeError(w, statusFor(err), err, protocol.ReasonFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"puf_challenge": challenge})
}

func (h *NodeHandler) handleIssueCredential(w http.ResponseWriter, req *http.Request) {
	credReq, err := protocol.DecodeMessage[protocol.CredentialRequest](req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	resp, err := h.node.IssueCredential(credReq)
	if err != nil {
		// The counterparty learns only the coarse reason; detail stays in
		// the node log.
		reason := protocol.ReasonFor(err)
		writeJSON(w, statusFor(err), protocol.CredentialResponse{Error: string(reason)})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *NodeHandler) handleStartSession(w http.ResponseWriter, req *http.Request) {
	startReq, err := protocol.DecodeMessage[SessionStartRequest](req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	resp, err := h.node.StartSession(startReq.InitiatorID, startReq.VerifierID)
	if err != nil {
		writeError(w, statusFor(err), err, protocol.ReasonFor(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *NodeHandler) handleAuthenticate(w http.ResponseWriter, req *http.Request) {
	var authReq protocol.AuthRequest
	if err := json.NewDecoder(req.Body).Decode(&authReq); err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	result, err := h.node.Authenticate(req.Context(), chi.URLParam(req, "session_id"), &authReq)
	if err != nil {
		writeError(w, statusFor(err), err, protocol.ReasonFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *NodeHandler) handleSessionStatus(w http.ResponseWriter, req *http.Request) {
	status, err := h.node.SessionStatus(chi.URLParam(req, "session_id"))
	if err != nil {
		writeError(w, statusFor(err), err, protocol.ReasonFor(err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// statusFor maps protocol errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrUnknownIdentity),
		errors.Is(err, protocol.ErrSessionNotFound),
		errors.Is(err, protocol.ErrNotProvisioned):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrPUFMismatch),
		errors.Is(err, protocol.ErrIdentityNotBound),
		errors.Is(err, protocol.ErrInvalidSignature),
		errors.Is(err, protocol.ErrInvalidPath),
		errors.Is(err, protocol.ErrLeafReuseDetected),
		errors.Is(err, protocol.ErrNonceMismatch),
		errors.Is(err, protocol.ErrProofReplay):
		return http.StatusForbidden
	case errors.Is(err, protocol.ErrExpired),
		errors.Is(err, protocol.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, protocol.ErrKeyExhausted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
