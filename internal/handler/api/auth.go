package api

import (
	"strings"

	"CascadeAdvisor/internal/domain/models"
	xhttp "CascadeAdvisor/pkg/http"
	xlogger "CascadeAdvisor/pkg/logger"

	"github.com/labstack/echo/v4"
)

const callerKeyName = "caller"

// authenticate resolves the bearer token into a caller. Requests without a
// valid token continue as guests.
func (h *AdvisorHandler) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		caller, err := h.resolver.Identify(c.Request().Context(), token)
		if err != nil {
			h.logger.Error("auth.identify failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("token verification unavailable"))
		}
		c.Set(callerKeyName, caller)
		return next(c)
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func callerFrom(c echo.Context) models.Caller {
	if caller, ok := c.Get(callerKeyName).(models.Caller); ok {
		return caller
	}
	return models.Caller{Role: models.RoleGuest}
}

// callerKey charges users by id and guests by address.
func callerKey(c echo.Context) string {
	caller := callerFrom(c)
	if caller.IsGuest() {
		return "ip:" + c.RealIP()
	}
	return "user:" + caller.UserID
}
