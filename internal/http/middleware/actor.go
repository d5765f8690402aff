package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"dmscore/internal/model"
)

const (
	// ActorIDHeader carries the authenticated user's ID, set by the
	// identity gateway in front of this service.
	ActorIDHeader = "X-Actor-Id"
	// ActorNameHeader carries the authenticated user's username.
	ActorNameHeader = "X-Actor-Name"
	// ActorRolesHeader carries the user's roles, comma separated.
	ActorRolesHeader = "X-Actor-Roles"
	// SessionIDHeader carries the client session identifier recorded on
	// locks and audit entries.
	SessionIDHeader = "X-Session-Id"

	// ActorLocalKey is the key used to store the actor in Fiber's context locals.
	ActorLocalKey = "actor"
	// ClientMetaLocalKey is the key used to store client metadata in Fiber's context locals.
	ClientMetaLocalKey = "client_meta"
)

// Actor is a middleware that materializes the request's actor and client
// metadata from gateway headers. Identity and credentials are the gateway's
// concern; this service only consumes the asserted identity.
func Actor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := model.Actor{
			ID:       c.Get(ActorIDHeader),
			Username: c.Get(ActorNameHeader),
		}
		if roles := c.Get(ActorRolesHeader); roles != "" {
			for _, r := range strings.Split(roles, ",") {
				if r = strings.TrimSpace(r); r != "" {
					actor.Roles = append(actor.Roles, r)
				}
			}
		}
		c.Locals(ActorLocalKey, actor)
		c.Locals(ClientMetaLocalKey, model.ClientMeta{
			SessionID: c.Get(SessionIDHeader),
			IPAddress: c.IP(),
			UserAgent: c.Get(fiber.HeaderUserAgent),
		})
		return c.Next()
	}
}

// ActorFromCtx extracts the actor stored by the Actor middleware.
func ActorFromCtx(c *fiber.Ctx) model.Actor {
	if v, ok := c.Locals(ActorLocalKey).(model.Actor); ok {
		return v
	}
	return model.Actor{}
}

// ClientMetaFromCtx extracts the client metadata stored by the Actor middleware.
func ClientMetaFromCtx(c *fiber.Ctx) model.ClientMeta {
	if v, ok := c.Locals(ClientMetaLocalKey).(model.ClientMeta); ok {
		return v
	}
	return model.ClientMeta{}
}
