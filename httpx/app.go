// Package httpx wraps echo for the storefront API and resty for the clients
// that call it, so the rest of the module imports neither directly.
package httpx

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Context represents the context of the current HTTP request.
type Context = echo.Context

// HandlerFunc defines a function to handle HTTP requests.
type HandlerFunc = echo.HandlerFunc

// MiddlewareFunc defines a function to process middleware.
type MiddlewareFunc = echo.MiddlewareFunc

// App is the route registration surface handed to RouteRegistrar callbacks.
type App struct{ e *echo.Echo }

func (a *App) GET(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.e.GET(path, h, mw...)
}

func (a *App) POST(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.e.POST(path, h, mw...)
}

func (a *App) PATCH(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.e.PATCH(path, h, mw...)
}

func (a *App) DELETE(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.e.DELETE(path, h, mw...)
}

// Group returns a Router for routes under prefix. Middleware passed here
// runs for every route added through the Router.
func (a *App) Group(prefix string, mw ...MiddlewareFunc) *Router {
	return &Router{g: a.e.Group(prefix, mw...)}
}

// Router adds routes under a shared prefix. Its methods chain.
type Router struct {
	g *echo.Group
}

func (r *Router) GET(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(echo.GET, path, h, mw)
}

func (r *Router) POST(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(echo.POST, path, h, mw)
}

func (r *Router) PATCH(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(echo.PATCH, path, h, mw)
}

func (r *Router) DELETE(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(echo.DELETE, path, h, mw)
}

func (r *Router) add(method, path string, h HandlerFunc, mw []MiddlewareFunc) *Router {
	if r.g != nil && h != nil && path != "" {
		r.g.Add(method, path, h, mw...)
	}
	return r
}

// HTTPError constructs an HTTP error for returning from handlers.
func HTTPError(code int, message any) error { return echo.NewHTTPError(code, message) }

// DefaultCORSConfig provides the default CORS configuration.
var DefaultCORSConfig = middleware.DefaultCORSConfig
