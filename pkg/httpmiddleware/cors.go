package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	// AllowOrigins lists origins permitted to make cross-origin requests.
	// Empty, or containing "*", allows every origin.
	AllowOrigins []string

	// AllowMethods for actual requests. Empty means
	// "GET, POST, PUT, DELETE, OPTIONS".
	AllowMethods []string

	// AllowHeaders clients may send. Empty echoes the preflight's
	// Access-Control-Request-Headers back.
	AllowHeaders []string

	// ExposeHeaders the browser may read from responses.
	ExposeHeaders []string

	// AllowCredentials permits cookies and auth headers. The wildcard origin
	// is illegal with credentials, so enabling this forces per-origin echo.
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header; negative sends "0".
	MaxAge int
}

// cors is the precomputed middleware state.
type cors struct {
	cfg           CORSConfig
	wildcard      bool
	origins       map[string]string // lowercased -> configured spelling
	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	maxAge        string
}

// CORS returns a middleware handling cross-origin requests: preflight
// responses, allow/expose header emission, and Vary bookkeeping so shared
// caches never serve one origin's response to another.
func CORS(cfg CORSConfig) Middleware {
	c := &cors{
		cfg:           cfg,
		wildcard:      len(cfg.AllowOrigins) == 0,
		origins:       make(map[string]string, len(cfg.AllowOrigins)),
		allowMethods:  strings.Join(cfg.AllowMethods, ", "),
		allowHeaders:  strings.Join(cfg.AllowHeaders, ", "),
		exposeHeaders: strings.Join(cfg.ExposeHeaders, ", "),
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			c.wildcard = true
			break
		}
		c.origins[strings.ToLower(o)] = o
	}
	// Credentials plus "*" is forbidden; echo the specific origin instead.
	if cfg.AllowCredentials {
		c.wildcard = false
	}
	if c.allowMethods == "" {
		c.allowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	if cfg.MaxAge > 0 {
		c.maxAge = strconv.Itoa(cfg.MaxAge)
	} else if cfg.MaxAge < 0 {
		c.maxAge = "0"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Same-origin traffic: no CORS headers, but caches must still
			// vary on Origin when responses depend on it.
			if origin == "" {
				if !c.wildcard {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			if isPreflight(r) {
				c.preflight(w, r, origin)
				return
			}
			c.actual(w, origin)
			next.ServeHTTP(w, r)
		})
	}
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

func (c *cors) preflight(w http.ResponseWriter, r *http.Request, origin string) {
	hdr := w.Header()
	hdr.Add("Vary", "Origin")
	hdr.Add("Vary", "Access-Control-Request-Method")
	hdr.Add("Vary", "Access-Control-Request-Headers")

	allowOrigin := c.resolveOrigin(origin)
	if allowOrigin == "" {
		// Disallowed origin: answer the preflight without CORS grants.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	hdr.Set("Access-Control-Allow-Origin", allowOrigin)
	hdr.Set("Access-Control-Allow-Methods", c.allowMethods)

	if c.allowHeaders != "" {
		hdr.Set("Access-Control-Allow-Headers", c.allowHeaders)
	} else if rh := r.Header.Get("Access-Control-Request-Headers"); rh != "" {
		hdr.Set("Access-Control-Allow-Headers", rh)
	}
	if c.cfg.AllowCredentials {
		hdr.Set("Access-Control-Allow-Credentials", "true")
	}
	if c.maxAge != "" {
		hdr.Set("Access-Control-Max-Age", c.maxAge)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (c *cors) actual(w http.ResponseWriter, origin string) {
	hdr := w.Header()
	if !c.wildcard {
		hdr.Add("Vary", "Origin")
	}

	allowOrigin := c.resolveOrigin(origin)
	if allowOrigin == "" {
		return
	}
	hdr.Set("Access-Control-Allow-Origin", allowOrigin)
	if c.cfg.AllowCredentials {
		hdr.Set("Access-Control-Allow-Credentials", "true")
	}
	if c.exposeHeaders != "" {
		hdr.Set("Access-Control-Expose-Headers", c.exposeHeaders)
	}
}

// resolveOrigin returns the Access-Control-Allow-Origin value for a request
// origin, or "" when the origin is not allowed. Matching is case-insensitive;
// the configured spelling is echoed back.
func (c *cors) resolveOrigin(origin string) string {
	if c.wildcard {
		return "*"
	}
	return c.origins[strings.ToLower(origin)]
}
