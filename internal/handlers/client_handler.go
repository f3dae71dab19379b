package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fitcrm/internal/models"
	"fitcrm/internal/services"
)

// ClientHandler exposes client CRUD.
type ClientHandler struct {
	clients  *services.ClientService
	progress *services.ProgressService
	logger   *logrus.Logger
}

func NewClientHandler(clients *services.ClientService, progress *services.ProgressService, logger *logrus.Logger) *ClientHandler {
	return &ClientHandler{clients: clients, progress: progress, logger: logger}
}

// CreateClient
// @Summary Create a client
// @Tags clients
// @Accept json
// @Produce json
// @Param client body models.Client true "Client record"
// @Success 201 {object} models.Client
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/clients [post]
func (h *ClientHandler) CreateClient(c *gin.Context) {
	var client models.Client
	if err := c.ShouldBindJSON(&client); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	if err := h.clients.Create(c.Request.Context(), &client); err != nil {
		if errors.Is(err, services.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Client already exists", Message: err.Error()})
			return
		}
		h.logger.Errorf("Failed to create client: %v", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create client", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, client)
}

// GetClient
// @Summary Get client by ID
// @Tags clients
// @Produce json
// @Param id path string true "Client ID"
// @Success 200 {object} models.Client
// @Failure 404 {object} ErrorResponse
// @Router /api/clients/{id} [get]
func (h *ClientHandler) GetClient(c *gin.Context) {
	client, err := h.clients.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Client not found"})
			return
		}
		h.logger.Errorf("Failed to get client: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get client", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, client)
}

// ListClients
// @Summary List clients
// @Tags clients
// @Produce json
// @Param status query string false "Filter by status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} PaginatedResponse
// @Router /api/clients [get]
func (h *ClientHandler) ListClients(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	clients, total, err := h.clients.List(c.Request.Context(), c.Query("status"), pageSize, (page-1)*pageSize)
	if err != nil {
		h.logger.Errorf("Failed to list clients: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list clients", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{Data: clients, Total: total, Page: page, PageSize: pageSize})
}

// UpdateClient applies a partial patch.
func (h *ClientHandler) UpdateClient(c *gin.Context) {
	var patch models.JSONMap
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	client, err := h.clients.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Client not found"})
		case errors.Is(err, services.ErrDuplicateEmail):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Email already in use", Message: err.Error()})
		default:
			h.logger.Errorf("Failed to update client: %v", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to update client", Message: err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, client)
}

func (h *ClientHandler) DeleteClient(c *gin.Context) {
	if err := h.clients.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Client not found"})
			return
		}
		h.logger.Errorf("Failed to delete client: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to delete client", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Client deleted"})
}

// GetClientProgress returns recent check-ins, newest first.
func (h *ClientHandler) GetClientProgress(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	entries, err := h.progress.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.logger.Errorf("Failed to load progress history: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load progress", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// RegisterClientRoutes wires client endpoints onto the API group.
func RegisterClientRoutes(r *gin.RouterGroup, handler *ClientHandler) {
	clients := r.Group("/clients")
	{
		clients.POST("", handler.CreateClient)
		clients.GET("", handler.ListClients)
		clients.GET("/:id", handler.GetClient)
		clients.PUT("/:id", handler.UpdateClient)
		clients.DELETE("/:id", handler.DeleteClient)
		clients.GET("/:id/progress", handler.GetClientProgress)
	}
}
