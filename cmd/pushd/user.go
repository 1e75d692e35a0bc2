package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/SebastienMelki/causality-push/internal/identity"
)

type userStore interface {
	SetIdentity(ctx context.Context, typ identity.IdentityType, id string) error
	Identities(ctx context.Context) ([]identity.Identity, error)
	SetAttribute(ctx context.Context, key string, value any) error
	RemoveAttribute(ctx context.Context, key string) error
	Attributes(ctx context.Context) (map[string]any, error)
	LTV(ctx context.Context) (decimal.Decimal, error)
	AddLTV(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
}

type optOutSetter interface {
	SetOptedOut(optedOut bool)
}

type userView struct {
	Identities []identity.Identity `json:"identities"`
	Attributes map[string]any      `json:"attributes"`
	LTV        decimal.Decimal     `json:"ltv"`
}

func (a *admin) handleGetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var view userView
	var err error
	if view.Identities, err = a.users.Identities(ctx); err != nil {
		a.writeStoreError(w, err)
		return
	}
	if view.Attributes, err = a.users.Attributes(ctx); err != nil {
		a.writeStoreError(w, err)
		return
	}
	if view.LTV, err = a.users.LTV(ctx); err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *admin) handleSetIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type identity.IdentityType `json:"type"`
		ID   string                `json:"id"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := a.users.SetIdentity(r.Context(), req.Type, req.ID); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetAttribute takes the attribute value as the raw JSON body.
func (a *admin) handleSetAttribute(w http.ResponseWriter, r *http.Request) {
	var value any
	if err := decodeBody(w, r, &value); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := a.users.SetAttribute(r.Context(), r.PathValue("key"), value); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *admin) handleRemoveAttribute(w http.ResponseWriter, r *http.Request) {
	if err := a.users.RemoveAttribute(r.Context(), r.PathValue("key")); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *admin) handleAddLTV(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	total, err := a.users.AddLTV(r.Context(), req.Amount)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ltv": total.String()})
}

func (a *admin) handleOptOut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OptedOut bool `json:"opted_out"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	a.optOut.SetOptedOut(req.OptedOut)
	a.logger.Info("opt-out changed", "opted_out", req.OptedOut)
	w.WriteHeader(http.StatusNoContent)
}

func (a *admin) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, identity.ErrEmptyAttributeKey) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	a.logger.Error("user store failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
