package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/surgery-scheduler-server/internal/domain"
	"github.com/surgery-scheduler-server/internal/health"
	"github.com/surgery-scheduler-server/internal/middleware"
	"github.com/surgery-scheduler-server/internal/service"
)

// Messages shared with the frontend.
const (
	bannerMessage      = "Surgery Scheduler API is running"
	invalidDateMessage = "Invalid date format. Use YYYY-MM-DD"
	templateFilename   = "surgery_import_template.xlsx"
	exportFilename     = "schedule_runs.json"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": bannerMessage})
}

// handleHealth reports component health. Only an unhealthy service answers 503.
func (s *Server) handleHealth(c *gin.Context) {
	report := s.health.Run(c.Request.Context())
	status := http.StatusOK
	if report.Status == health.StateUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (s *Server) handlePredict(c *gin.Context) {
	var request domain.SurgeryRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, "Invalid request body", err)
		return
	}

	prediction, err := s.service.Predict(c.Request.Context(), &request)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prediction)
}

func (s *Server) handleSchedule(c *gin.Context) {
	var request domain.ScheduleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, "Invalid request body", err)
		return
	}

	resp, err := s.service.CreateSchedule(c.Request.Context(), &request)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleBatchImport schedules an uploaded CSV, or a generated batch when the
// form carries no file.
func (s *Server) handleBatchImport(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.Server.MaxUploadBytes)

	startDate := c.PostForm("start_date")
	if startDate == "" {
		startDate = c.Query("start_date")
	}
	if startDate != "" {
		if _, err := service.ParseStartDate(startDate); err != nil {
			s.badRequest(c, invalidDateMessage, nil)
			return
		}
	}

	file, _, err := c.Request.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		resp, err := s.service.ImportBatch(c.Request.Context(), file, startDate)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, domain.NewAPIError(
				domain.CodeInvalidInput,
				"The uploaded file is too large",
				"",
				middleware.GetCorrelationID(c),
			))
			return
		}
		s.badRequest(c, "Could not read upload", err)
		return
	}

	count, err := queryInt(c, "count")
	if err != nil {
		s.badRequest(c, "count must be an integer", err)
		return
	}
	seed, err := queryInt(c, "seed")
	if err != nil {
		s.badRequest(c, "seed must be an integer", err)
		return
	}

	resp, err := s.service.GenerateBatch(c.Request.Context(), int(count), seed, startDate)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTemplate(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.service.WriteTemplate(&buf); err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+templateFilename)
	c.Data(http.StatusOK, service.ContentTypeXLSX, buf.Bytes())
}

func (s *Server) handleModelPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":          "Model performance metrics",
		"performance_data": s.service.ModelPerformance(),
	})
}

func (s *Server) handleListSchedules(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil || limit < 0 {
		s.badRequest(c, "limit must be a non-negative integer", err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil || offset < 0 {
		s.badRequest(c, "offset must be a non-negative integer", err)
		return
	}
	if limit == 0 {
		limit = 20
	}

	runs, total, err := s.service.ListRuns(c.Request.Context(), int(limit), int(offset))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":   runs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetSchedule(c *gin.Context) {
	run, err := s.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleDeleteSchedule(c *gin.Context) {
	if err := s.service.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleExportSchedules(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.service.ExportRuns(c.Request.Context(), &buf); err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+exportFilename)
	c.Data(http.StatusOK, "application/json; charset=utf-8", buf.Bytes())
}

func (s *Server) handleCreateArchive(c *gin.Context) {
	obj, err := s.archiver.ArchiveRuns(c.Request.Context(), s.service.ExportRuns)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"bucket": obj.Bucket,
		"key":    obj.Key,
		"size":   obj.Size,
	}).Info("Schedule history archived")
	c.JSON(http.StatusCreated, obj)
}

func (s *Server) handleListArchives(c *gin.Context) {
	objects, err := s.archiver.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archives": objects, "total": len(objects)})
}

func queryInt(c *gin.Context, key string) (int64, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *Server) badRequest(c *gin.Context, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	c.JSON(http.StatusBadRequest, domain.NewAPIError(
		domain.CodeInvalidInput,
		message,
		details,
		middleware.GetCorrelationID(c),
	))
}

// respondError maps service errors onto status codes and APIError bodies.
func (s *Server) respondError(c *gin.Context, err error) {
	requestID := middleware.GetCorrelationID(c)

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, domain.NewAPIError(domain.CodeInvalidInput, verr.Message, verr.Field, requestID))
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, domain.NewAPIError(domain.CodeInvalidInput, err.Error(), "", requestID))
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, domain.NewAPIError(domain.CodeNotFound, "Schedule run not found", "", requestID))
	case errors.Is(err, domain.ErrBackendUnavailable):
		c.JSON(http.StatusServiceUnavailable, domain.NewAPIError(domain.CodeBackendUnavailable, "Scheduling backend unavailable", err.Error(), requestID))
	case errors.Is(err, domain.ErrStorageUnavailable):
		s.logger.WithField("correlation_id", requestID).WithError(err).Warn("Archive storage failed")
		c.JSON(http.StatusBadGateway, domain.NewAPIError(domain.CodeStorage, "Archive storage unavailable", "", requestID))
	default:
		s.logger.WithFields(logrus.Fields{
			"correlation_id": requestID,
			"path":           c.Request.URL.Path,
		}).WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(domain.CodeInternalServer, "Internal server error", "", requestID))
	}
}
