// Package api contains the HTTP handlers for the agent workflow service
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/auth"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/parser"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/repository"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/services"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/wallet"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// WorkflowService is the front door the handlers drive.
type WorkflowService interface {
	Parse(text string) parser.Result
	Submit(ctx context.Context, text, createdBy string) (*models.WorkflowRecord, error)
	SubmitSteps(ctx context.Context, description string, steps []models.Step, createdBy string) (*models.WorkflowRecord, error)
	Execute(ctx context.Context, id string) (*models.WorkflowRecord, error)
	ExecuteAsync(ctx context.Context, id string) (*models.WorkflowRecord, error)
	Get(ctx context.Context, id string) (*models.WorkflowRecord, error)
	List(ctx context.Context, limit int) ([]*models.WorkflowRecord, error)
}

// EventSource returns the recent progress events of a workflow.
type EventSource interface {
	Events(workflowID string) []models.Event
}

// OnChainResolver delivers wallet responses to waiting verifications.
type OnChainResolver interface {
	Resolve(correlationID string, resp models.OnChainResponse) error
}

// Server holds the dependencies for the API server.
type Server struct {
	svc     WorkflowService
	events  EventSource
	onchain OnChainResolver
}

// NewServer creates a new Server.
func NewServer(svc WorkflowService, events EventSource, onchain OnChainResolver) *Server {
	return &Server{svc: svc, events: events, onchain: onchain}
}

// Register mounts the workflow routes on g, normally /api/v1.
func (s *Server) Register(g *echo.Group) {
	g.POST("/parse", s.ParseCommand)
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.POST("/workflows/:id/execute", s.ExecuteWorkflow)
	g.GET("/workflows/:id/events", s.WorkflowEvents)
	g.POST("/onchain/:correlationId", s.OnChainResponse)
}

// ParseRequest is the body of POST /parse.
type ParseRequest struct {
	Command string `json:"command"`
}

// CreateWorkflowRequest carries either a command or pre-parsed steps.
type CreateWorkflowRequest struct {
	Command     string        `json:"command,omitempty"`
	Description string        `json:"description,omitempty"`
	Steps       []models.Step `json:"steps,omitempty"`
}

// ParseCommand compiles a command without storing it
// (POST /api/v1/parse)
func (s *Server) ParseCommand(c echo.Context) error {
	var req ParseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Command == "" {
		return echo.NewHTTPError(http.StatusBadRequest, services.ErrEmptyCommand.Error())
	}
	return c.JSON(http.StatusOK, s.svc.Parse(req.Command))
}

// CreateWorkflow stores a workflow and optionally starts it
// (POST /api/v1/workflows[?execute=true])
func (s *Server) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	operator := auth.OperatorFrom(ctx)
	var record *models.WorkflowRecord
	var err error
	if len(req.Steps) > 0 {
		description := req.Description
		if description == "" {
			description = req.Command
		}
		record, err = s.svc.SubmitSteps(ctx, description, req.Steps, operator)
	} else {
		record, err = s.svc.Submit(ctx, req.Command, operator)
	}
	if err != nil {
		return httpError(err)
	}

	if c.QueryParam("execute") == "true" {
		if _, err := s.svc.ExecuteAsync(ctx, record.ID); err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusAccepted, record)
	}
	return c.JSON(http.StatusCreated, record)
}

// ListWorkflows returns the newest workflows
// (GET /api/v1/workflows[?limit=n])
func (s *Server) ListWorkflows(c echo.Context) error {
	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		}
		limit = n
	}

	records, err := s.svc.List(c.Request().Context(), limit)
	if err != nil {
		return httpError(err)
	}
	if records == nil {
		records = []*models.WorkflowRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

// GetWorkflow returns one workflow record
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	record, err := s.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, record)
}

// ExecuteWorkflow starts a workflow in the background, or runs it to the
// end when wait=true
// (POST /api/v1/workflows/:id/execute[?wait=true])
func (s *Server) ExecuteWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if c.QueryParam("wait") == "true" {
		record, err := s.svc.Execute(ctx, id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, record)
	}

	record, err := s.svc.ExecuteAsync(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, record)
}

// WorkflowEvents returns the recent progress events of a workflow
// (GET /api/v1/workflows/:id/events)
func (s *Server) WorkflowEvents(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.svc.Get(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	events := s.events.Events(id)
	if events == nil {
		events = []models.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

// OnChainResponse delivers the wallet's answer to a pending verification
// (POST /api/v1/onchain/:correlationId)
func (s *Server) OnChainResponse(c echo.Context) error {
	var resp models.OnChainResponse
	if err := c.Bind(&resp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if err := s.onchain.Resolve(c.Param("correlationId"), resp); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, wallet.ErrUnknownCorrelation):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrEmptyCommand), errors.Is(err, services.ErrNoSteps), errors.Is(err, repository.ErrInvalidID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotExecutable), errors.Is(err, repository.ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
