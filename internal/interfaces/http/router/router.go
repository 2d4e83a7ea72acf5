// Package router assembles the gin engine: middleware chain and route groups.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crosslist/backend/internal/interfaces/http/middleware"
)

// RouteRegistrar mounts its routes under a parent group
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router collects registrars for the public root and the versioned API
type Router struct {
	engine    *gin.Engine
	apiPrefix string
	api       []RouteRegistrar
	root      []RouteRegistrar
}

// NewRouter mounts API registrars under /api/<version>
func NewRouter(engine *gin.Engine, version string) *Router {
	if version == "" {
		version = "v1"
	}
	return &Router{engine: engine, apiPrefix: "/api/" + version}
}

// API adds a registrar under the versioned prefix
func (r *Router) API(registrar RouteRegistrar) *Router {
	r.api = append(r.api, registrar)
	return r
}

// Root adds a registrar outside the API prefix, e.g. marketplace webhooks
func (r *Router) Root(registrar RouteRegistrar) *Router {
	r.root = append(r.root, registrar)
	return r
}

// Setup mounts every registrar on the engine
func (r *Router) Setup() {
	for _, registrar := range r.root {
		registrar.RegisterRoutes(&r.engine.RouterGroup)
	}
	api := r.engine.Group(r.apiPrefix)
	for _, registrar := range r.api {
		registrar.RegisterRoutes(api)
	}
}

// Group is a path prefix with its middleware, routes and nested groups.
// Nothing reaches gin until RegisterRoutes.
type Group struct {
	prefix     string
	middleware []gin.HandlerFunc
	routes     []route
	children   []*Group
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewGroup starts a group at prefix
func NewGroup(prefix string, middleware ...gin.HandlerFunc) *Group {
	return &Group{prefix: prefix, middleware: middleware}
}

// Operator guards the group with operator auth plus the required token scope
func (g *Group) Operator(operatorAuth gin.HandlerFunc, scope string) *Group {
	g.middleware = append(g.middleware, operatorAuth, middleware.RequireScope(scope))
	return g
}

// Scoped returns a nested group at the same prefix that additionally needs scope
func (g *Group) Scoped(scope string) *Group {
	return g.Group("", middleware.RequireScope(scope))
}

// Group nests a group under g
func (g *Group) Group(prefix string, middleware ...gin.HandlerFunc) *Group {
	child := NewGroup(prefix, middleware...)
	g.children = append(g.children, child)
	return child
}

// GET adds a GET route
func (g *Group) GET(path string, handlers ...gin.HandlerFunc) *Group {
	g.routes = append(g.routes, route{http.MethodGet, path, handlers})
	return g
}

// POST adds a POST route
func (g *Group) POST(path string, handlers ...gin.HandlerFunc) *Group {
	g.routes = append(g.routes, route{http.MethodPost, path, handlers})
	return g
}

// RegisterRoutes implements RouteRegistrar
func (g *Group) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(g.prefix, g.middleware...)
	for _, rt := range g.routes {
		group.Handle(rt.method, rt.path, rt.handlers...)
	}
	for _, child := range g.children {
		child.RegisterRoutes(group)
	}
}
