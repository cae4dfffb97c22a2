package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Makar0n1/art-automation/internal/store"
)

// ProjectsHandler implements /api/projects: owner-scoped CRUD.
type ProjectsHandler struct {
	Store *store.Store
}

func (p *ProjectsHandler) register(g *echo.Group) {
	g.POST("/projects", p.create)
	g.GET("/projects", p.list)
	g.GET("/projects/:id", p.get)
	g.PUT("/projects/:id", p.update)
	g.DELETE("/projects/:id", p.delete)
}

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (p *ProjectsHandler) create(c echo.Context) error {
	var req projectRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 100 {
		return fail(c, http.StatusBadRequest, "name is required and must be at most 100 characters")
	}
	if len(req.Description) > 500 {
		return fail(c, http.StatusBadRequest, "description must be at most 500 characters")
	}

	proj, err := p.Store.CreateProject(c.Request().Context(), principalID(c), req.Name, req.Description)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusCreated, proj)
}

func (p *ProjectsHandler) list(c echo.Context) error {
	projects, err := p.Store.ListProjects(c.Request().Context(), principalID(c))
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusOK, projects)
}

func (p *ProjectsHandler) get(c echo.Context) error {
	proj, err := p.Store.GetProject(c.Request().Context(), principalID(c), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		return fail(c, http.StatusNotFound, "project not found")
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusOK, proj)
}

func (p *ProjectsHandler) update(c echo.Context) error {
	var req projectRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 100 {
		return fail(c, http.StatusBadRequest, "name is required and must be at most 100 characters")
	}
	if len(req.Description) > 500 {
		return fail(c, http.StatusBadRequest, "description must be at most 500 characters")
	}

	err := p.Store.UpdateProject(c.Request().Context(), principalID(c), c.Param("id"), req.Name, req.Description)
	if err != nil {
		return fail(c, http.StatusNotFound, "project not found")
	}
	return okMessage(c, http.StatusOK, "project updated")
}

func (p *ProjectsHandler) delete(c echo.Context) error {
	if err := p.Store.DeleteProject(c.Request().Context(), principalID(c), c.Param("id")); err != nil {
		return fail(c, http.StatusNotFound, "project not found")
	}
	return okMessage(c, http.StatusOK, "project deleted")
}
