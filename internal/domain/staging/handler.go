package staging

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dischargehq/discharge/internal/parse"
	"github.com/dischargehq/discharge/internal/platform/middleware"
	"github.com/dischargehq/discharge/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/import-types", h.ImportTypes)
	e.POST("/upload-pdf", h.Upload)
	e.GET("/review/:raw_data_id", h.Review)
	e.GET("/raw-data", h.ListRawUploads)
	e.GET("/raw-data/:raw_data_id/file", h.DownloadRawUpload)

	e.GET("/api/enrichment-types", h.EnrichmentTypes)
	e.GET("/api/field-options", h.FieldOptions)
	e.GET("/api/temp-discharge/:id", h.GetStaged)
	e.PUT("/api/temp-discharge/:id", h.UpdateStaged)
	e.POST("/api/reject/:id", h.Reject)
}

func (h *Handler) ImportTypes(c echo.Context) error {
	types, err := h.svc.ImportTypes(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch import types")
	}
	if types == nil {
		types = []*ImportType{}
	}
	return c.JSON(http.StatusOK, types)
}

func (h *Handler) Upload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no file part in the request")
	}
	if fileHeader.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "no file selected for uploading")
	}

	importTypeRaw := c.FormValue("import_type_id")
	if importTypeRaw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "no import type selected")
	}
	importTypeID, err := uuid.Parse(importTypeRaw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid import_type_id")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unable to read uploaded file")
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unable to read uploaded file")
	}

	actor := middleware.ActorFromContext(c)
	result, err := h.svc.Upload(c.Request().Context(), actor, fileHeader.Filename, content, importTypeID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     "File uploaded and processed successfully",
		"data":        result.Records,
		"raw_data_id": result.RawDataID,
	})
}

func (h *Handler) Review(c echo.Context) error {
	rawDataID, err := uuid.Parse(c.Param("raw_data_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid raw_data_id")
	}

	review, err := h.svc.Review(c.Request().Context(), rawDataID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "no data found for the given raw_data_id")
		case errors.Is(err, ErrNoStagedRows):
			return echo.NewHTTPError(http.StatusNotFound, "no temporary discharge data found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch review data")
	}
	return c.JSON(http.StatusOK, review)
}

func (h *Handler) ListRawUploads(c echo.Context) error {
	from, err := parseTimeParam(c.QueryParam("start_date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start_date format, use ISO 8601")
	}
	to, err := parseTimeParam(c.QueryParam("end_date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid end_date format, use ISO 8601")
	}

	pg := pagination.FromContext(c)
	summaries, total, err := h.svc.ListRawUploads(c.Request().Context(), from, to, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch raw data")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(summaries, total, pg.Limit, pg.Offset))
}

func (h *Handler) DownloadRawUpload(c echo.Context) error {
	rawDataID, err := uuid.Parse(c.Param("raw_data_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid raw_data_id")
	}

	upload, err := h.svc.GetRawUpload(c.Request().Context(), rawDataID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no data found for the given raw_data_id")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch raw data")
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", upload.SourceFileName))
	return c.Blob(http.StatusOK, "application/pdf", upload.RawContent)
}

// FieldOptions returns the closed vocabularies the parser recognizes, in
// match order, for review-screen dropdowns.
func (h *Handler) FieldOptions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{
		"insurances":   parse.Insurances(),
		"dispositions": parse.Dispositions(),
	})
}

func (h *Handler) EnrichmentTypes(c echo.Context) error {
	types, err := h.svc.EnrichmentTypes(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch enrichment types")
	}
	if types == nil {
		types = []*EnrichmentType{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"enrichmentTypes": types})
}

func (h *Handler) GetStaged(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid discharge ID format")
	}

	staged, enrichments, err := h.svc.GetStagedDetail(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "discharge record not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch discharge record")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"dischargeData":  staged,
		"enrichmentData": enrichments,
	})
}

type updateRequest struct {
	DischargeData  map[string]string `json:"dischargeData"`
	EnrichmentData []EnrichmentInput `json:"enrichmentData"`
}

func (h *Handler) UpdateStaged(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid discharge ID format")
	}

	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.DischargeData) == 0 && len(req.EnrichmentData) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no data provided")
	}

	actor := middleware.ActorFromContext(c)
	if err := h.svc.UpdateStaged(c.Request().Context(), actor, id, req.DischargeData, req.EnrichmentData); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Discharge and enrichment data updated successfully",
	})
}

func (h *Handler) Reject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid discharge ID format")
	}

	actor := middleware.ActorFromContext(c)
	if err := h.svc.Reject(c.Request().Context(), actor, id); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Record rejected successfully"})
}

func mapServiceError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Message)
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "discharge record not found")
	case errors.Is(err, ErrAlreadyFinal):
		return echo.NewHTTPError(http.StatusConflict, "record already reviewed")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Accept date-only bounds as midnight UTC.
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}
