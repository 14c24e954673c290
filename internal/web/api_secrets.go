package web

import (
	"encoding/json"
	"net/http"

	"github.com/mtzanidakis/agentdeck/internal/store"
)

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	secrets, err := s.store.ListSecrets()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if secrets == nil {
		secrets = []store.Secret{}
	}
	jsonResponse(w, secrets)
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}

	ciphertext, nonce, err := s.vault.EncryptString(body.Value)
	if err != nil {
		jsonError(w, "encryption failed", http.StatusInternalServerError)
		return
	}

	sec := &store.Secret{
		ID:          body.Name,
		Name:        body.Name,
		Description: body.Description,
		Value:       ciphertext,
		Nonce:       nonce,
	}
	if err := s.store.SaveSecret(sec); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]string{
		"id":          sec.ID,
		"name":        sec.Name,
		"description": sec.Description,
	})
}

func (s *Server) getSecret(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	sec, err := s.store.GetSecret(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sec == nil {
		jsonError(w, "secret not found", http.StatusNotFound)
		return
	}

	// The value is only revealed when explicitly requested.
	out := map[string]any{
		"id":          sec.ID,
		"name":        sec.Name,
		"description": sec.Description,
		"created_at":  sec.CreatedAt,
		"updated_at":  sec.UpdatedAt,
	}
	if r.URL.Query().Get("reveal") == "true" {
		value, err := s.vault.DecryptString(sec.Value, sec.Nonce)
		if err != nil {
			jsonError(w, "decryption failed", http.StatusInternalServerError)
			return
		}
		out["value"] = value
	}
	jsonResponse(w, out)
}

func (s *Server) updateSecret(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	sec, err := s.store.GetSecret(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sec == nil {
		jsonError(w, "secret not found", http.StatusNotFound)
		return
	}

	var body struct {
		Description *string `json:"description"`
		Value       *string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Description != nil {
		sec.Description = *body.Description
	}
	if body.Value != nil {
		if *body.Value == "" {
			jsonError(w, "value cannot be empty", http.StatusBadRequest)
			return
		}
		ciphertext, nonce, err := s.vault.EncryptString(*body.Value)
		if err != nil {
			jsonError(w, "encryption failed", http.StatusInternalServerError)
			return
		}
		sec.Value = ciphertext
		sec.Nonce = nonce
	}

	if err := s.store.SaveSecret(sec); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "saved"})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if err := s.store.DeleteSecret(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}
