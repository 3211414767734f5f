package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ActorIDHeader identifies the application user performing a request.
const ActorIDHeader = "X-Actor-ID"

const actorContextKey = "actor_id"

// Actor returns middleware that resolves the acting application user for
// each request. The X-Actor-ID header takes precedence; requests without
// the header run as defaultActor. A malformed header is rejected with 400.
func Actor(defaultActor uuid.UUID) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := defaultActor
			if raw := c.Request().Header.Get(ActorIDHeader); raw != "" {
				parsed, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid X-Actor-ID header")
				}
				actor = parsed
			}

			c.Set(actorContextKey, actor)
			return next(c)
		}
	}
}

// ActorFromContext returns the acting user resolved by the Actor middleware.
// The zero UUID is returned when the middleware did not run.
func ActorFromContext(c echo.Context) uuid.UUID {
	actor, _ := c.Get(actorContextKey).(uuid.UUID)
	return actor
}
