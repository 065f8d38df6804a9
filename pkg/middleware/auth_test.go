package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"chatwiki/pkg/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuthMiddleware(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	app := fiber.New()
	app.Get("/whoami", AuthMiddleware(jwtManager, zap.NewNop()), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("client").(string))
	})

	token, err := jwtManager.GenerateToken("bridge")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"bearer token", "Bearer " + token, fiber.StatusOK, "bridge"},
		{"bare token", token, fiber.StatusOK, "bridge"},
		{"missing", "", fiber.StatusUnauthorized, ""},
		{"invalid", "Bearer nope", fiber.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.body != "" {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, tt.body, string(body))
			}
		})
	}
}
