package csrf

import "github.com/goliatone/go-router"

// RouteConfig controls the token bootstrap endpoint used by scripts that
// cannot read the meta tag.
type RouteConfig struct {
	Path       string
	ContextKey string
	RouteName  string
}

// TokenResponse is the body served by the bootstrap endpoint.
type TokenResponse struct {
	Token      string `json:"token"`
	FieldName  string `json:"field_name"`
	HeaderName string `json:"header_name"`
}

// RegisterRoutes registers GET {Path}. The CSRF middleware must run first
// so the session token is already in locals.
func RegisterRoutes[T any](app router.Router[T], cfg ...RouteConfig) {
	conf := routeConfig(cfg...)
	app.Get(conf.Path, tokenHandler(conf)).SetName(conf.RouteName)
}

func routeConfig(cfg ...RouteConfig) RouteConfig {
	conf := RouteConfig{
		Path:       "/csrf",
		ContextKey: DefaultContextKey,
		RouteName:  "accounts.csrf",
	}
	if len(cfg) == 0 {
		return conf
	}

	if cfg[0].Path != "" {
		conf.Path = cfg[0].Path
	}
	if cfg[0].ContextKey != "" {
		conf.ContextKey = cfg[0].ContextKey
	}
	if cfg[0].RouteName != "" {
		conf.RouteName = cfg[0].RouteName
	}
	return conf
}

func tokenHandler(cfg RouteConfig) router.HandlerFunc {
	return func(ctx router.Context) error {
		token, _ := ctx.Locals(cfg.ContextKey).(string)
		if token == "" {
			return ctx.JSON(router.StatusForbidden, map[string]string{
				"error": ErrSessionMissing.Error(),
			})
		}

		ctx.SetHeader("Cache-Control", "no-store")

		res := TokenResponse{
			Token:      token,
			FieldName:  DefaultFormFieldName,
			HeaderName: DefaultHeaderName,
		}
		if v, ok := ctx.Locals(cfg.ContextKey + "_field").(string); ok && v != "" {
			res.FieldName = v
		}
		if v, ok := ctx.Locals(cfg.ContextKey + "_header").(string); ok && v != "" {
			res.HeaderName = v
		}
		return ctx.JSON(router.StatusOK, res)
	}
}
