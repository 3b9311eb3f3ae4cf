package api

import (
	"CascadeAdvisor/internal/domain/models"
	xhttp "CascadeAdvisor/pkg/http"

	"github.com/labstack/echo/v4"
)

func (h *AdvisorHandler) ListAudit(c echo.Context) error {
	req := &models.ListAuditRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.audit.List(c.Request().Context(), callerFrom(c), models.AuditFilter{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		ActorID:    req.ActorID,
		Limit:      req.Limit,
	})
	if err != nil {
		return h.fail(c, "audit.list", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}
