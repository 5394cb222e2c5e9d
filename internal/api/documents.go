package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/driftpad/driftpad/internal/storage"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest struct {
	WorkspaceID string `json:"workspaceId"`
	Title       string `json:"title"`
	Content     string `json:"content"`
}

// DocumentResponse is the response body for document endpoints.
type DocumentResponse struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// handleCreateDocument handles POST /documents.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.WorkspaceID == "" {
		http.Error(w, "workspaceId is required", http.StatusBadRequest)

		return
	}

	if req.Title == "" {
		req.Title = "Untitled"
	}

	identity := IdentityFromContext(r.Context())

	member, err := s.authz.IsMember(r.Context(), identity.UserID, req.WorkspaceID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	if !member {
		http.Error(w, "not a member of the workspace", http.StatusForbidden)

		return
	}

	doc := storage.Document{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		Title:       req.Title,
		Content:     req.Content,
		UpdatedAt:   time.Now(),
	}

	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateTitle):
			http.Error(w, "a document with this title already exists", http.StatusConflict)
		case errors.Is(err, storage.ErrDocumentExists):
			http.Error(w, "document already exists", http.StatusConflict)
		default:
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}

		return
	}

	if s.audit != nil {
		_ = s.audit.Record(r.Context(), storage.Activity{
			Action:      storage.ActionCreatedDocument,
			DocumentID:  doc.ID,
			WorkspaceID: doc.WorkspaceID,
			UserID:      identity.UserID,
			OccurredAt:  time.Now(),
		})
	}

	s.writeJSON(w, http.StatusCreated, documentResponse(doc))
}

// handleGetDocument handles GET /documents/{docID}. When the document has
// a live session its current state is returned, otherwise the stored
// snapshot.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docID"]
	identity := IdentityFromContext(r.Context())

	doc, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)

			return
		}

		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	member, err := s.authz.IsMember(r.Context(), identity.UserID, doc.WorkspaceID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	if !member {
		http.Error(w, "access denied", http.StatusForbidden)

		return
	}

	// Prefer live state over the possibly stale stored snapshot
	if session := s.manager.Get(docID); session != nil {
		if markup, err := session.SnapshotMarkup(); err == nil {
			doc.Content = markup
		}
	}

	s.writeJSON(w, http.StatusOK, documentResponse(doc))
}

// documentResponse converts a storage record to its wire form.
func documentResponse(doc storage.Document) DocumentResponse {
	return DocumentResponse{
		ID:          doc.ID,
		WorkspaceID: doc.WorkspaceID,
		Title:       doc.Title,
		Content:     doc.Content,
		UpdatedAt:   doc.UpdatedAt,
	}
}

// writeJSON encodes a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn().Err(err).Msg("failed to encode response")
	}
}
