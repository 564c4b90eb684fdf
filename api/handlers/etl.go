package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/internal/service/etl"
	"github.com/feichai0017/inventory-etl/pkg/converters"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

type ETLHandler struct {
	service etl.Service
	logger  logger.Logger
}

func NewETLHandler(service etl.Service, logger logger.Logger) *ETLHandler {
	return &ETLHandler{
		service: service,
		logger:  logger,
	}
}

// ValidateRequest 手工提交的记录
type ValidateRequest struct {
	Label   string          `json:"label"`
	Records json.RawMessage `json:"records" binding:"required"`
}

// Upload 上传文件并创建 ETL 工作
func (h *ETLHandler) Upload(c *gin.Context) {
	data, filename, err := readFormFile(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}

	validateOnly := false
	if v := c.PostForm("validate_only"); v != "" {
		validateOnly, err = strconv.ParseBool(v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "validate_only must be a boolean", err)
			return
		}
	}

	job, err := h.service.SubmitJob(c.Request.Context(), &models.SubmitRequest{
		Data:         data,
		Filename:     filename,
		SheetName:    c.PostForm("sheet_name"),
		TargetDate:   c.PostForm("target_date"),
		ValidateOnly: validateOnly,
	})
	if err != nil {
		handleError(c, h.logger, "Failed to submit job", err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

// ListJobs 列出工作
func (h *ETLHandler) ListJobs(c *gin.Context) {
	filter := models.JobFilter{Status: models.JobStatus(c.Query("status"))}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(c, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		filter.Limit = limit
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), filter)
	if err != nil {
		handleError(c, h.logger, "Failed to list jobs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob 获取工作状态
func (h *ETLHandler) GetJob(c *gin.Context) {
	job, err := h.service.GetJob(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, "Failed to get job", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob 取消工作
func (h *ETLHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("jobId")
	ok, err := h.service.CancelJob(c.Request.Context(), jobID)
	if err != nil {
		handleError(c, h.logger, "Failed to cancel job", err)
		return
	}
	if !ok {
		writeError(c, http.StatusBadRequest, "Job cannot be cancelled in its current state",
			fmt.Errorf("job %s is not pending or processing", jobID))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Job cancelled successfully",
		"job_id":  jobID,
	})
}

// Validate 同步校验 JSON 记录
func (h *ETLHandler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Label == "" {
		req.Label = "manual"
	}

	batch, err := converters.DecodeRecordBytes(req.Records, req.Label)
	if err != nil {
		handleError(c, h.logger, "Invalid records", err)
		return
	}
	c.JSON(http.StatusOK, h.service.ValidateBatch(batch, req.Label))
}

// ValidateSheets 校验上传文件中选中的工作表，未指定时校验全部
func (h *ETLHandler) ValidateSheets(c *gin.Context) {
	data, filename, err := readFormFile(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}

	var names []string
	for _, v := range c.PostFormArray("sheet_names") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}

	results, err := h.service.ValidateSheets(c.Request.Context(), data, filename, names)
	if err != nil {
		handleError(c, h.logger, "Failed to validate sheets", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// Inspect 分析文件中的工作表
func (h *ETLHandler) Inspect(c *gin.Context) {
	data, filename, err := readFormFile(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}

	sheets, err := h.service.Inspect(c.Request.Context(), data, filename)
	if err != nil {
		handleError(c, h.logger, "Failed to inspect file", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"filename": filename,
		"sheets":   sheets,
	})
}

func readFormFile(c *gin.Context) ([]byte, string, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, "", err
	}
	f, err := header.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	return data, header.Filename, nil
}
