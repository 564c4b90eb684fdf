package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/inventory-etl/internal/service/query"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// QueryService runs guarded read-only queries.
type QueryService interface {
	Execute(ctx context.Context, sql string) (*query.Result, error)
	Ask(ctx context.Context, question string) (*query.Result, error)
}

type QueryHandler struct {
	service QueryService
	logger  logger.Logger
}

func NewQueryHandler(service QueryService, logger logger.Logger) *QueryHandler {
	return &QueryHandler{
		service: service,
		logger:  logger,
	}
}

type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

type ExecuteRequest struct {
	SQL string `json:"sql"`
}

// Ask 自然语言查询
func (h *QueryHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.service.Ask(c.Request.Context(), req.Question)
	if err != nil {
		handleError(c, h.logger, "Failed to answer question", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Execute 执行 SQL 查询
func (h *QueryHandler) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.service.Execute(c.Request.Context(), req.SQL)
	if err != nil {
		handleError(c, h.logger, "Failed to execute query", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
