package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuthTokens(t *testing.T) {
	tokens := ParseAuthTokens("tok1:alice,tok2:bob:pro, tok3:carol:free ,tok4:dave:platinum")

	require.Len(t, tokens, 4)
	assert.Equal(t, Principal{UserID: "alice", Plan: PlanFree}, tokens["tok1"])
	assert.Equal(t, Principal{UserID: "bob", Plan: PlanPro}, tokens["tok2"])
	assert.Equal(t, Principal{UserID: "carol", Plan: PlanFree}, tokens["tok3"])
	assert.Equal(t, PlanFree, tokens["tok4"].Plan, "unknown plan falls back to free")
}

func TestParseAuthTokens_MalformedEntriesSkipped(t *testing.T) {
	tokens := ParseAuthTokens("tok1:alice,,justatoken,:nouser,tok2:")
	require.Len(t, tokens, 1)
	assert.Equal(t, "alice", tokens["tok1"].UserID)

	assert.Empty(t, ParseAuthTokens(""))
}

func TestPrincipalEntitlements(t *testing.T) {
	free := Principal{UserID: "alice", Plan: PlanFree}
	pro := Principal{UserID: "bob", Plan: PlanPro}

	assert.True(t, free.Entitled(FeaturePipeline))
	assert.False(t, free.Entitled(FeatureReplan))
	assert.True(t, pro.Entitled(FeatureReplan))

	assert.NoError(t, free.RequireFeature(FeaturePipeline))
	assert.Error(t, free.RequireFeature(FeatureReplan))

	// An unauthenticated zero principal has no entitlements at all.
	assert.False(t, Principal{}.Entitled(FeaturePipeline))
}

func TestRequireAuth(t *testing.T) {
	s := &Server{auth: NewAuthenticator(map[string]Principal{
		"valid-token": {UserID: "alice", Plan: PlanPro},
	})}

	handler := s.requireAuth(func(c *echo.Context) error {
		p := principalFrom(c)
		return c.String(http.StatusOK, p.UserID)
	})

	call := func(authHeader string) (int, string, error) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		err := handler(c)
		return rec.Code, rec.Body.String(), err
	}

	t.Run("valid token passes through with principal", func(t *testing.T) {
		code, body, err := call("Bearer valid-token")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "alice", body)
	})

	unauthorized := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic valid-token"},
		{"empty token", "Bearer "},
		{"unknown token", "Bearer nope"},
	}
	for _, tt := range unauthorized {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := call(tt.header)
			code, body := envelope(t, err)
			assert.Equal(t, http.StatusUnauthorized, code)
			// Missing and invalid tokens are indistinguishable.
			assert.Equal(t, "unauthorized", body.Error)
		})
	}
}

func TestAuthenticatorReset(t *testing.T) {
	a := NewAuthenticator(map[string]Principal{"tok": {UserID: "alice", Plan: PlanFree}})

	_, ok := a.Resolve("tok")
	require.True(t, ok)

	a.Reset(map[string]Principal{"other": {UserID: "bob", Plan: PlanFree}})
	_, ok = a.Resolve("tok")
	assert.False(t, ok)
	_, ok = a.Resolve("other")
	assert.True(t, ok)

	a.Reset(nil)
	_, ok = a.Resolve("other")
	assert.False(t, ok)
}
