package httpface

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/smartcomputer-ai/agentos/controlsocket"
	"github.com/smartcomputer-ai/agentos/governance"
)

// errorBody is the JSON shape returned on failure, matching
// controlsocket.ErrorInfo's {code, message} fields so operator tooling
// can share one error-rendering path across both façades.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func fail(c echo.Context, status int, code string, err error) error {
	return c.JSON(status, errorBody{Code: code, Message: err.Error()})
}

// GetReducerState handles `GET /v1/control/reducer-state/:name?key=`.
func (h *Handlers) GetReducerState(c echo.Context) error {
	name := c.Param("name")
	key := c.QueryParam("key")
	state, ok := h.Kernel.GetReducerState(name, key)
	return c.JSON(http.StatusOK, map[string]interface{}{"state": state, "found": ok})
}

// ListCells handles `GET /v1/control/cells?workspace=`.
func (h *Handlers) ListCells(c echo.Context) error {
	cells, err := h.Kernel.ListCells(c.QueryParam("workspace"))
	if err != nil {
		return fail(c, http.StatusInternalServerError, "ListCellsFailed", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"cells": cells})
}

// GetJournalHead handles `GET /v1/control/journal/head`.
func (h *Handlers) GetJournalHead(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"height": h.Kernel.GetJournalHead()})
}

// GetManifest handles `GET /v1/control/manifest`.
func (h *Handlers) GetManifest(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"manifest_hash": h.Kernel.GetManifest()})
}

// submitProposalRequest is the POST /v1/control/proposals body.
type submitProposalRequest struct {
	Patch       governance.ManifestPatch `json:"patch"`
	Description string                   `json:"description"`
}

// SubmitProposal handles `POST /v1/control/proposals`.
func (h *Handlers) SubmitProposal(c echo.Context) error {
	var req submitProposalRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "InvalidRequest", err)
	}
	proposal, err := h.Kernel.SubmitProposal(req.Patch, req.Description)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "SubmitProposalFailed", err)
	}
	return c.JSON(http.StatusOK, proposal)
}

// RunShadow handles `POST /v1/control/proposals/:id/shadow`.
func (h *Handlers) RunShadow(c echo.Context) error {
	var summary governance.ShadowSummary
	if err := c.Bind(&summary); err != nil {
		return fail(c, http.StatusBadRequest, "InvalidRequest", err)
	}
	if err := h.Kernel.RunShadow(c.Param("id"), summary); err != nil {
		return fail(c, http.StatusInternalServerError, "RunShadowFailed", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// approveProposalRequest is the POST /v1/control/proposals/:id/approve body.
type approveProposalRequest struct {
	Approver string `json:"approver"`
	Decision bool   `json:"decision"`
}

// ApproveProposal handles `POST /v1/control/proposals/:id/approve`.
func (h *Handlers) ApproveProposal(c echo.Context) error {
	var req approveProposalRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "InvalidRequest", err)
	}
	if err := h.Kernel.ApproveProposal(c.Param("id"), req.Approver, req.Decision); err != nil {
		return fail(c, http.StatusInternalServerError, "ApproveProposalFailed", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ApplyProposal handles `POST /v1/control/proposals/:id/apply`.
func (h *Handlers) ApplyProposal(c echo.Context) error {
	hash, err := h.Kernel.ApplyProposal(c.Param("id"))
	if err != nil {
		return fail(c, http.StatusInternalServerError, "ApplyProposalFailed", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"manifest_hash": hash})
}

// createSnapshotRequest is the POST /v1/control/snapshots body.
type createSnapshotRequest struct {
	GovernanceState interface{} `json:"governance_state"`
	PinnedRoots     []string    `json:"pinned_roots"`
}

// CreateSnapshot handles `POST /v1/control/snapshots`.
func (h *Handlers) CreateSnapshot(c echo.Context) error {
	var req createSnapshotRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "InvalidRequest", err)
	}
	ref, err := h.Kernel.CreateSnapshot(req.GovernanceState, req.PinnedRoots)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "CreateSnapshotFailed", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"snapshot_ref": ref})
}

// tickRequest is the POST /v1/control/tick body.
type tickRequest struct {
	NowNS int64 `json:"now_ns"`
}

// Tick handles `POST /v1/control/tick`.
func (h *Handlers) Tick(c echo.Context) error {
	var req tickRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "InvalidRequest", err)
	}
	quiescent, err := h.Kernel.Tick(req.NowNS)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "TickFailed", err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"quiescent": quiescent})
}
