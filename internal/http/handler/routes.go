package handler

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"dmscore/internal/http/middleware"
	"dmscore/internal/repository"
	"dmscore/internal/service"
	"dmscore/internal/workflow"
)

// LockTokenHeader carries the edit lock capability token.
const LockTokenHeader = "X-Lock-Token"

// Services bundles the service dependencies of the HTTP layer.
type Services struct {
	Documents *service.DocumentService
	Workflow  *service.WorkflowService
	Locks     *service.LockService
	Sessions  *service.SessionService
	Audits    *service.AuditService
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers parse and validate input, call one service method, and map
// errors; business logic stays in the services.
func RegisterRoutes(app *fiber.App, db *sql.DB, svc Services) {
	// Serve OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	// Health endpoint: checks DB connectivity only
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	})

	// Simple liveness probe
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	// Login. A live session for the same user is refused unless force=true,
	// which displaces it.
	app.Post("/auth/login", func(c *fiber.Ctx) error {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Force    bool   `json:"force"`
		}
		if err := c.BodyParser(&body); err != nil || body.Username == "" || body.Password == "" {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "username and password are required")
		}
		sess, err := svc.Sessions.Login(c.UserContext(), body.Username, body.Password, body.Force, middleware.ClientMetaFromCtx(c))
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	})

	// Validate the current session token.
	app.Get("/auth/session", func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return writeError(c, fiber.StatusBadRequest, "TOKEN_REQUIRED", "session token is required")
		}
		state, sess, err := svc.Sessions.Validate(c.UserContext(), token)
		if err != nil {
			return mapServiceError(c, err)
		}
		if state != service.SessionActive {
			return writeErrorDetails(c, fiber.StatusUnauthorized, "SESSION_INVALID", "session is not valid", fiber.Map{"state": state})
		}
		return c.JSON(fiber.Map{"state": state, "session": sess})
	})

	// Logout.
	app.Post("/auth/logout", func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return writeError(c, fiber.StatusBadRequest, "TOKEN_REQUIRED", "session token is required")
		}
		if err := svc.Sessions.Logout(c.UserContext(), token, middleware.ActorFromCtx(c)); err != nil {
			return mapServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// Force-logout a user's session (admin).
	app.Delete("/auth/sessions/:userID", func(c *fiber.Ctx) error {
		userID := c.Params("userID")
		if _, err := uuid.Parse(userID); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		displaced, err := svc.Sessions.ForceLogout(c.UserContext(), userID, middleware.ActorFromCtx(c))
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(fiber.Map{"displaced": displaced})
	})

	// Create a document with its first draft version.
	app.Post("/documents", func(c *fiber.Ctx) error {
		var body struct {
			DocumentNumber string `json:"document_number"`
			Title          string `json:"title"`
			Department     string `json:"department"`
		}
		if err := c.BodyParser(&body); err != nil || body.DocumentNumber == "" || body.Title == "" {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "document_number and title are required")
		}
		doc, first, err := svc.Documents.Create(c.UserContext(), service.CreateDocumentRequest{
			DocumentNumber: body.DocumentNumber,
			Title:          body.Title,
			Department:     body.Department,
			Actor:          middleware.ActorFromCtx(c),
			Meta:           middleware.ClientMetaFromCtx(c),
		})
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"document": doc, "version": first})
	})

	// List documents with limit & offset
	app.Get("/documents", func(c *fiber.Ctx) error {
		pq, err := pageQuery(c)
		if err != nil {
			return err
		}
		res, err := svc.Documents.List(c.UserContext(), pq)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(res)
	})

	// Get document by ID
	app.Get("/documents/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		doc, err := svc.Documents.Get(c.UserContext(), id)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(doc)
	})

	// List a document's versions, newest first
	app.Get("/documents/:id/versions", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		pq, err := pageQuery(c)
		if err != nil {
			return err
		}
		res, err := svc.Documents.Versions(c.UserContext(), id, pq)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(res)
	})

	// Open the next draft version for a document
	app.Post("/documents/:id/versions", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		v, err := svc.Documents.NewDraft(c.UserContext(), id, middleware.ActorFromCtx(c), middleware.ClientMetaFromCtx(c))
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(v)
	})

	// Get version by ID
	app.Get("/versions/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		v, err := svc.Documents.GetVersion(c.UserContext(), id)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(v)
	})

	// Presigned download URL for a version's content
	app.Get("/versions/:id/content-url", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		u, err := svc.Workflow.ContentURL(c.UserContext(), id, 15*time.Minute)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(fiber.Map{"url": u})
	})

	// Save draft content. Requires a live edit lock token and the base
	// content hash from the client's last read.
	app.Put("/versions/:id/content", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		token := c.Get(LockTokenHeader)
		if token == "" {
			return writeError(c, fiber.StatusBadRequest, "LOCK_TOKEN_REQUIRED", "edit lock token is required")
		}
		var body struct {
			BaseHash string `json:"base_hash"`
			Content  string `json:"content"`
		}
		if err := c.BodyParser(&body); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		v, err := svc.Workflow.SaveContent(c.UserContext(), service.SaveRequest{
			VersionID: id,
			Actor:     middleware.ActorFromCtx(c),
			Token:     token,
			BaseHash:  body.BaseHash,
			Content:   []byte(body.Content),
			Meta:      middleware.ClientMetaFromCtx(c),
		})
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(v)
	})

	// Apply a workflow transition to a version.
	app.Post("/versions/:id/transition", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		var body struct {
			Action    string `json:"action"`
			Comment   string `json:"comment"`
			Signature string `json:"signature"`
		}
		if err := c.BodyParser(&body); err != nil || body.Action == "" {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "action is required")
		}
		if !validAction(workflow.Action(body.Action)) {
			return writeError(c, fiber.StatusBadRequest, "UNKNOWN_ACTION", "unknown workflow action")
		}
		v, err := svc.Workflow.Transition(c.UserContext(), service.TransitionRequest{
			VersionID: id,
			Action:    workflow.Action(body.Action),
			Actor:     middleware.ActorFromCtx(c),
			Comment:   body.Comment,
			Signature: body.Signature,
			Meta:      middleware.ClientMetaFromCtx(c),
		})
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(v)
	})

	// Acquire (or renew) the edit lock on a version.
	app.Post("/versions/:id/lock", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		info, err := svc.Locks.Acquire(c.UserContext(), id, middleware.ActorFromCtx(c), middleware.ClientMetaFromCtx(c))
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(info)
	})

	// Inspect the lock on a version. The token is only echoed to its holder.
	app.Get("/versions/:id/lock", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		info, ok, err := svc.Locks.Inspect(c.UserContext(), id, middleware.ActorFromCtx(c))
		if err != nil {
			return mapServiceError(c, err)
		}
		if !ok {
			return writeError(c, fiber.StatusNotFound, "LOCK_NOT_FOUND", "no live lock on this version")
		}
		return c.JSON(info)
	})

	// Heartbeat the edit lock.
	app.Post("/versions/:id/lock/heartbeat", func(c *fiber.Ctx) error {
		token := c.Get(LockTokenHeader)
		if token == "" {
			return writeError(c, fiber.StatusBadRequest, "LOCK_TOKEN_REQUIRED", "edit lock token is required")
		}
		info, err := svc.Locks.Heartbeat(c.UserContext(), token)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(info)
	})

	// Release the edit lock. Idempotent.
	app.Delete("/versions/:id/lock", func(c *fiber.Ctx) error {
		token := c.Get(LockTokenHeader)
		if token == "" {
			return writeError(c, fiber.StatusBadRequest, "LOCK_TOKEN_REQUIRED", "edit lock token is required")
		}
		if err := svc.Locks.Release(c.UserContext(), token, middleware.ActorFromCtx(c)); err != nil {
			return mapServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// Force-release the lock regardless of holder (admin).
	app.Delete("/versions/:id/lock/force", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		var body struct {
			Reason string `json:"reason"`
		}
		_ = c.BodyParser(&body)
		displaced, err := svc.Locks.ForceRelease(c.UserContext(), id, middleware.ActorFromCtx(c), body.Reason)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(fiber.Map{"displaced": displaced})
	})

	// Query the audit ledger, newest first.
	app.Get("/audit-logs", func(c *fiber.Ctx) error {
		pq, err := pageQuery(c)
		if err != nil {
			return err
		}
		f := repository.AuditFilter{
			Action:     c.Query("action"),
			EntityType: c.Query("entity_type"),
			EntityID:   c.Query("entity_id"),
			ActorID:    c.Query("actor_id"),
			ActorName:  c.Query("actor_name"),
		}
		if from := c.Query("from"); from != "" {
			t, err := time.Parse(time.RFC3339, from)
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_FROM", "from must be RFC3339")
			}
			f.From = t
		}
		if to := c.Query("to"); to != "" {
			t, err := time.Parse(time.RFC3339, to)
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_TO", "to must be RFC3339")
			}
			f.To = t
		}
		res, err := svc.Audits.Query(c.UserContext(), f, pq)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(res)
	})

	// Distinct action codes present in the ledger.
	app.Get("/audit-logs/actions", func(c *fiber.Ctx) error {
		actions, err := svc.Audits.Actions(c.UserContext())
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(fiber.Map{"actions": actions})
	})
}

func pageQuery(c *fiber.Ctx) (repository.PageQuery, error) {
	limit, err := strconv.Atoi(c.Query("limit", "20"))
	if err != nil {
		return repository.PageQuery{}, writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
	}
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil {
		return repository.PageQuery{}, writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
	}
	return repository.PageQuery{Limit: limit, Offset: offset}, nil
}

func bearerToken(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func validAction(a workflow.Action) bool {
	for _, known := range workflow.Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// mapServiceError translates service errors into standardized responses.
// Internal errors never leak details to clients.
func mapServiceError(c *fiber.Ctx, err error) error {
	var held *service.LockHeldError
	if errors.As(err, &held) {
		return writeErrorDetails(c, fiber.StatusConflict, "LOCK_HELD", held.Error(), held)
	}
	var sessConflict *service.SessionConflictError
	if errors.As(err, &sessConflict) {
		return writeErrorDetails(c, fiber.StatusConflict, "SESSION_CONFLICT", sessConflict.Error(), sessConflict)
	}
	var invalid *workflow.InvalidTransitionError
	if errors.As(err, &invalid) {
		return writeErrorDetails(c, fiber.StatusConflict, "INVALID_TRANSITION", invalid.Error(), fiber.Map{
			"from":   invalid.From,
			"action": invalid.Action,
		})
	}

	switch {
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, service.ErrVersionNotEditable):
		return writeError(c, fiber.StatusConflict, "VERSION_NOT_EDITABLE", "version is not editable")
	case errors.Is(err, service.ErrLockNotFound):
		return writeError(c, fiber.StatusNotFound, "LOCK_NOT_FOUND", "lock not found")
	case errors.Is(err, service.ErrLockExpired):
		return writeError(c, fiber.StatusConflict, "LOCK_EXPIRED", "lock expired, re-acquire to continue")
	case errors.Is(err, service.ErrNotLockOwner):
		return writeError(c, fiber.StatusForbidden, "NOT_LOCK_OWNER", "caller does not hold this lock")
	case errors.Is(err, service.ErrStaleContent):
		return writeError(c, fiber.StatusConflict, "STALE_CONTENT", "content changed since last read")
	case errors.Is(err, service.ErrForbidden):
		return writeError(c, fiber.StatusForbidden, "FORBIDDEN", "operation not permitted")
	case errors.Is(err, service.ErrCommentRequired):
		return writeError(c, fiber.StatusBadRequest, "COMMENT_REQUIRED", "a comment is required for this action")
	case errors.Is(err, service.ErrSignatureRequired):
		return writeError(c, fiber.StatusBadRequest, "SIGNATURE_REQUIRED", "an e-signature is required for this action")
	case errors.Is(err, service.ErrSignatureInvalid):
		return writeError(c, fiber.StatusUnauthorized, "SIGNATURE_INVALID", "e-signature verification failed")
	case errors.Is(err, service.ErrActiveVersionExists):
		return writeError(c, fiber.StatusConflict, "ACTIVE_VERSION_EXISTS", "document already has an active version")
	case errors.Is(err, service.ErrInvalidCredentials):
		return writeError(c, fiber.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
