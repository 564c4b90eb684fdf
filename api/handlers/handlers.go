package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/inventory-etl/internal/agent/tabular"
	"github.com/feichai0017/inventory-etl/internal/service/etl"
	"github.com/feichai0017/inventory-etl/internal/service/query"
	"github.com/feichai0017/inventory-etl/internal/utils/validator"
	"github.com/feichai0017/inventory-etl/pkg/converters"
	"github.com/feichai0017/inventory-etl/pkg/database/postgres"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

type Handlers struct {
	ETL    *ETLHandler
	Query  *QueryHandler
	Health *HealthHandler
}

func NewHandlers(
	etlService etl.Service,
	queryService QueryService,
	db Pinger,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		ETL:    NewETLHandler(etlService, log.Named("etl")),
		Query:  NewQueryHandler(queryService, log.Named("query")),
		Health: NewHealthHandler(db),
	}
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, validator.ErrEmptyFile),
		errors.Is(err, validator.ErrFileTooLarge),
		errors.Is(err, validator.ErrUnsupportedFormat),
		errors.Is(err, validator.ErrInvalidFileContent),
		errors.Is(err, etl.ErrInvalidTargetDate),
		errors.Is(err, tabular.ErrNoData),
		errors.Is(err, converters.ErrNotRecordArray),
		errors.Is(err, query.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, etl.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, query.ErrUnsafeQuery):
		return http.StatusForbidden
	case errors.Is(err, postgres.ErrStatementTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.Is(err, query.ErrGeneratorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, message string, err error) {
	status := statusFor(err)
	l := logger.FromContext(c.Request.Context(), log)
	if status >= http.StatusInternalServerError {
		l.Error(message, logger.String("path", c.Request.URL.Path), logger.Error(err))
	} else {
		l.Warn(message, logger.String("path", c.Request.URL.Path), logger.Error(err))
	}
	writeError(c, status, message, err)
}

func writeError(c *gin.Context, status int, message string, err error) {
	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	c.AbortWithStatusJSON(status, response)
}
