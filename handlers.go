package main

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kwv/roofmesh/internal/logging"
	"github.com/kwv/roofmesh/internal/store"
	"github.com/kwv/roofmesh/roof"
)

const maxThumbnailSize = 1024

type measurer interface {
	Measure(ctx context.Context, req roof.MeasureRequest) *roof.MeasurementResult
}

type repository interface {
	Save(ctx context.Context, result *roof.MeasurementResult) (string, error)
	Get(ctx context.Context, id string) (*roof.MeasurementResult, error)
	List(ctx context.Context, status string, limit int) ([]store.Record, error)
}

type resultPublisher interface {
	PublishMeasurement(ctx context.Context, result *roof.MeasurementResult) error
}

// server holds the collaborators behind the HTTP API. publisher and metrics
// are optional.
type server struct {
	measurer  measurer
	store     repository
	publisher resultPublisher
	metrics   *roof.Metrics
	logger    logging.Logger
}

// measurementRequest is the POST /api/v1/measurements body.
type measurementRequest struct {
	Lat          *float64 `json:"lat" binding:"required"`
	Lng          *float64 `json:"lng" binding:"required"`
	Pitch        string   `json:"pitch,omitempty"`
	EaveOffsetFt *float64 `json:"eaveOffsetFt,omitempty"`
	RoofStyle    string   `json:"roofStyle,omitempty"`
}

func (r measurementRequest) toMeasureRequest() (roof.MeasureRequest, error) {
	req := roof.MeasureRequest{
		Lat:          *r.Lat,
		Lng:          *r.Lng,
		EaveOffsetFt: r.EaveOffsetFt,
		RoofStyle:    roof.RoofStyle(strings.ToLower(r.RoofStyle)),
	}
	if r.Pitch != "" {
		p, err := roof.ParsePitch(r.Pitch)
		if err != nil {
			return req, err
		}
		req.PitchOverride = &p
	}
	switch req.RoofStyle {
	case "", roof.RoofStyleHip, roof.RoofStyleGable:
	default:
		return req, errors.New("roofStyle must be hip or gable")
	}
	if req.EaveOffsetFt != nil && *req.EaveOffsetFt < 0 {
		return req, errors.New("eaveOffsetFt must not be negative")
	}
	return req, nil
}

// newHTTPServer creates the gin engine with all endpoints
func newHTTPServer(s *server) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	s.logger = logging.OrNoop(s.logger)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"version":   Version,
			"timestamp": time.Now().UTC(),
		})
	})
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api/v1/measurements")
	{
		api.POST("", s.createMeasurement)
		api.GET("", s.listMeasurements)
		api.GET("/:id", s.getMeasurement)
		api.GET("/:id/geojson", s.getGeoJSON)
		api.GET("/:id/diagram.svg", s.getDiagram)
		api.GET("/:id/thumbnail.png", s.getThumbnail)
	}
	return r
}

// requestLogger logs each request through the service logger.
func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		fields := []logging.Field{
			logging.String("method", c.Request.Method),
			logging.String("path", path),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("latency", time.Since(start)),
			logging.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logging.String("errors", c.Errors.String()))
		}
		logger.Info(c.Request.Context(), "http request", fields...)
	}
}

func errorResponse(c *gin.Context, status int, msg string, err error) {
	body := gin.H{"error": msg}
	if err != nil {
		_ = c.Error(err)
		body["detail"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

// createMeasurement handles POST /api/v1/measurements. The result is stored
// and published whether or not the measurement succeeded.
func (s *server) createMeasurement(c *gin.Context) {
	var body measurementRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req, err := body.toMeasureRequest()
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ctx := c.Request.Context()
	result := s.measurer.Measure(ctx, req)

	status, err := s.store.Save(ctx, result)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to store measurement", err)
		return
	}
	if s.publisher != nil {
		if err := s.publisher.PublishMeasurement(ctx, result); err != nil {
			s.logger.Warn(ctx, "measurement not published", logging.String("id", result.ID), logging.Err(err))
		}
	}

	c.Header("Location", "/api/v1/measurements/"+result.ID)
	c.Header("X-Review-Status", status)
	c.JSON(http.StatusCreated, result)
}

// listMeasurements handles GET /api/v1/measurements?status=&limit=
func (s *server) listMeasurements(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", store.StatusAccepted, store.StatusReview, store.StatusFailed:
	default:
		errorResponse(c, http.StatusBadRequest, "status must be accepted, review or failed", nil)
		return
	}
	limit := 0
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			errorResponse(c, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = n
	}

	records, err := s.store.List(c.Request.Context(), status, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to list measurements", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records, "total": len(records)})
}

// load fetches the measurement named by the :id parameter, writing the error
// response itself when it cannot.
func (s *server) load(c *gin.Context) (*roof.MeasurementResult, bool) {
	result, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		errorResponse(c, http.StatusNotFound, "measurement not found", nil)
		return nil, false
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load measurement", err)
		return nil, false
	}
	return result, true
}

// getMeasurement handles GET /api/v1/measurements/:id
func (s *server) getMeasurement(c *gin.Context) {
	if result, ok := s.load(c); ok {
		c.JSON(http.StatusOK, result)
	}
}

// getGeoJSON handles GET /api/v1/measurements/:id/geojson
func (s *server) getGeoJSON(c *gin.Context) {
	result, ok := s.load(c)
	if !ok {
		return
	}
	data, err := roof.MeasurementToFeatureCollection(result).MarshalJSON()
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to encode geojson", err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", data)
}

// getDiagram handles GET /api/v1/measurements/:id/diagram.svg
func (s *server) getDiagram(c *gin.Context) {
	result, ok := s.load(c)
	if !ok {
		return
	}
	data, err := renderBuffer(roof.NewDiagramRenderer(result).RenderToSVG)
	if errors.Is(err, roof.ErrNothingToRender) {
		errorResponse(c, http.StatusNotFound, "measurement has no footprint to draw", nil)
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to render diagram", err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/svg+xml", data)
}

// getThumbnail handles GET /api/v1/measurements/:id/thumbnail.png?size=
func (s *server) getThumbnail(c *gin.Context) {
	result, ok := s.load(c)
	if !ok {
		return
	}
	size := defaultThumbnailSize
	if v := c.Query("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxThumbnailSize {
			errorResponse(c, http.StatusBadRequest, "size must be between 1 and 1024", err)
			return
		}
		size = n
	}
	img := roof.RenderThumbnail(result, size)
	data, err := renderBuffer(func(w io.Writer) error { return png.Encode(w, img) })
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to encode thumbnail", err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/png", data)
}

// renderBuffer renders into memory so a failed render still produces a clean
// error response.
func renderBuffer(fn func(io.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
