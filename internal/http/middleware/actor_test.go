package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmscore/internal/model"
)

func TestActor(t *testing.T) {
	app := fiber.New()
	app.Use(Actor())

	app.Get("/test", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"actor": ActorFromCtx(c),
			"meta":  ClientMetaFromCtx(c),
		})
	})

	t.Run("materializes actor from gateway headers", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(ActorIDHeader, "u1")
		req.Header.Set(ActorNameHeader, "alice")
		req.Header.Set(ActorRolesHeader, "Author, Reviewer")
		req.Header.Set(SessionIDHeader, "s1")
		req.Header.Set(fiber.HeaderUserAgent, "curl/8.0")

		resp, _ := app.Test(req)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		var body struct {
			Actor model.Actor      `json:"actor"`
			Meta  model.ClientMeta `json:"meta"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "u1", body.Actor.ID)
		assert.Equal(t, "alice", body.Actor.Username)
		assert.Equal(t, []string{"Author", "Reviewer"}, body.Actor.Roles)
		assert.Equal(t, "s1", body.Meta.SessionID)
		assert.Equal(t, "curl/8.0", body.Meta.UserAgent)
		assert.NotEmpty(t, body.Meta.IPAddress)
	})

	t.Run("anonymous request yields empty actor", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest("GET", "/test", nil))
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		var body struct {
			Actor model.Actor `json:"actor"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Empty(t, body.Actor.ID)
		assert.Empty(t, body.Actor.Roles)
	})
}
