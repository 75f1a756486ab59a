package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// ProxyTargets are the upstreams behind the public /api routes. Empty
// targets are not routed.
type ProxyTargets struct {
	Consent string
	Metrics string
	Queue   string
}

// ProxyHandler forwards browser calls to other services, adding CORS
// headers on the way back.
type ProxyHandler struct {
	cors    *cors.Cors
	logger  *slog.Logger
	targets ProxyTargets
}

func NewProxyHandler(targets ProxyTargets, allowedOrigins []string, logger *slog.Logger) *ProxyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &ProxyHandler{
		cors: cors.New(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		}),
		logger:  logger,
		targets: targets,
	}
}

func (h *ProxyHandler) Register(r gin.IRouter) error {
	routes := []struct {
		path   string
		target string
		strip  string
	}{
		{"/api/consent", h.targets.Consent, ""},
		{"/api/metrics/*path", h.targets.Metrics, "/api/metrics"},
		{"/api/v1/public/queue", h.targets.Queue, ""},
	}
	for _, rt := range routes {
		if rt.target == "" {
			continue
		}
		handler, err := h.forward(rt.target, rt.strip)
		if err != nil {
			return err
		}
		r.Any(rt.path, gin.WrapH(handler))
	}
	return nil
}

// forward proxies to target. With a strip prefix, the rest of the incoming
// path is appended to the target path.
func (h *ProxyHandler) forward(target, strip string) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy target %q", target)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			path := u.Path
			if strip != "" {
				path = joinURLPath(u.Path, strings.TrimPrefix(r.In.URL.Path, strip))
			}
			r.Out.URL.Scheme = u.Scheme
			r.Out.URL.Host = u.Host
			r.Out.URL.Path = path
			r.Out.URL.RawPath = ""
			r.Out.URL.RawQuery = r.In.URL.RawQuery
			r.Out.Host = u.Host
		},
		ModifyResponse: func(resp *http.Response) error {
			for k := range resp.Header {
				if strings.HasPrefix(k, "Access-Control-") {
					resp.Header.Del(k)
				}
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Warn("proxy upstream failed", "path", r.URL.Path, "target", u.Host, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "upstream unavailable"})
		},
	}
	return h.cors.Handler(proxy), nil
}

func joinURLPath(base, suffix string) string {
	if suffix == "" || suffix == "/" {
		if base == "" {
			return "/"
		}
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(suffix, "/")
}
