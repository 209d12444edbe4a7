package api

import (
	"net/http"
	"strings"
	"sync"

	echo "github.com/labstack/echo/v5"

	"github.com/resumeforge/resumeforge/pkg/services"
)

// Plans and the features they carry. The pipeline itself is available on
// every plan; mid-run benchmark replans are a paid feature.
const (
	PlanFree = "free"
	PlanPro  = "pro"

	FeaturePipeline = "resume_pipeline"
	FeatureReplan   = "benchmark_replan"
)

var planFeatures = map[string]map[string]bool{
	PlanFree: {FeaturePipeline: true},
	PlanPro:  {FeaturePipeline: true, FeatureReplan: true},
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Plan   string
}

// Entitled reports whether the principal's plan includes a feature.
func (p Principal) Entitled(feature string) bool {
	return planFeatures[p.Plan][feature]
}

// RequireFeature returns an EntitlementError when the plan lacks a feature.
func (p Principal) RequireFeature(feature string) error {
	if !p.Entitled(feature) {
		return &services.EntitlementError{Feature: feature}
	}
	return nil
}

// Authenticator resolves bearer tokens to principals. The token table is
// loaded once at startup; Reset exists for tests only.
type Authenticator struct {
	mu     sync.RWMutex
	tokens map[string]Principal
}

// NewAuthenticator creates an authenticator over a token → principal table.
func NewAuthenticator(tokens map[string]Principal) *Authenticator {
	if tokens == nil {
		tokens = make(map[string]Principal)
	}
	return &Authenticator{tokens: tokens}
}

// Resolve looks up a bearer token.
func (a *Authenticator) Resolve(token string) (Principal, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.tokens[token]
	return p, ok
}

// Reset replaces the token table. Test use only.
func (a *Authenticator) Reset(tokens map[string]Principal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tokens == nil {
		tokens = make(map[string]Principal)
	}
	a.tokens = tokens
}

// ParseAuthTokens parses the AUTH_TOKENS environment format:
// "token:user[:plan]" entries separated by commas. Unknown plans fall back
// to free.
func ParseAuthTokens(raw string) map[string]Principal {
	tokens := make(map[string]Principal)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		plan := PlanFree
		if len(parts) >= 3 {
			if _, ok := planFeatures[parts[2]]; ok {
				plan = parts[2]
			}
		}
		tokens[parts[0]] = Principal{UserID: parts[1], Plan: plan}
	}
	return tokens
}

const principalKey = "principal"

// requireAuth authenticates the bearer token and stores the principal on the
// request context. Missing and invalid tokens are indistinguishable.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, &ErrorResponse{Error: "unauthorized"})
		}
		principal, ok := s.auth.Resolve(token)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, &ErrorResponse{Error: "unauthorized"})
		}
		c.Set(principalKey, principal)
		return next(c)
	}
}

// principalFrom returns the authenticated principal set by requireAuth.
func principalFrom(c *echo.Context) Principal {
	p, _ := c.Get(principalKey).(Principal)
	return p
}
