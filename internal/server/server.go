// Package server exposes the pipeline over HTTP.
//
//	GET  /healthz          liveness
//	POST /v1/convert       multipart "sales"/"purchase" files -> invoices.xlsx
//	POST /v1/extract       same form -> run result as JSON
//	GET  /v1/runs          recent runs (when a run store is configured)
//	GET  /v1/runs/:id      one run with its documents
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoicexl/internal/export"
	"invoicexl/internal/logger"
	"invoicexl/internal/pipeline"
	"invoicexl/internal/store"
	"invoicexl/pkg/models"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// Runner is the part of the pipeline the server drives.
type Runner interface {
	Run(ctx context.Context, uploads []pipeline.Upload) (*pipeline.Result, error)
}

// RunStore records finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, res *pipeline.Result) error
	RecentRuns(ctx context.Context, limit int) ([]store.Run, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
}

// Options configures a Server.
type Options struct {
	MaxUploadBytes int64
	// Store is optional; without it runs are not recorded.
	Store RunStore
}

// Server handles the HTTP API.
type Server struct {
	runner Runner
	writer *export.Writer
	opts   Options
	log    zerolog.Logger
}

// New creates a server around a pipeline and a workbook writer.
func New(runner Runner, writer *export.Writer, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 << 20
	}
	return &Server{
		runner: runner,
		writer: writer,
		opts:   opts,
		log:    logger.WithComponent("server"),
	}
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), s.requestID())
	r.MaxMultipartMemory = 32 << 20

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.POST("/convert", s.convert)
	v1.POST("/extract", s.extract)
	v1.GET("/runs", s.listRuns)
	v1.GET("/runs/:id", s.getRun)

	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		log := logger.WithRequestID(id)
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

func (s *Server) convert(c *gin.Context) {
	res, ok := s.run(c)
	if !ok {
		return
	}

	data, err := s.writer.Bytes(res.Report, res.Issues)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, fmt.Errorf("failed to render workbook: %w", err))
		return
	}

	success, warning, failed := res.Counts()
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName))
	c.Header("X-Run-ID", res.RunID)
	c.Header("X-Documents-Succeeded", strconv.Itoa(success))
	c.Header("X-Documents-Warnings", strconv.Itoa(warning))
	c.Header("X-Documents-Failed", strconv.Itoa(failed))
	c.Data(http.StatusOK, export.ContentType, data)
}

func (s *Server) extract(c *gin.Context) {
	res, ok := s.run(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listRuns(c *gin.Context) {
	if s.opts.Store == nil {
		s.fail(c, http.StatusNotFound, errors.New("run history is not enabled"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := s.opts.Store.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	if s.opts.Store == nil {
		s.fail(c, http.StatusNotFound, errors.New("run history is not enabled"))
		return
	}
	run, err := s.opts.Store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// run reads the uploads, runs the pipeline and records the run. It writes the
// error response itself and reports false when the handler should stop.
func (s *Server) run(c *gin.Context) (*pipeline.Result, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.opts.MaxUploadBytes))
			return nil, false
		}
		s.fail(c, http.StatusBadRequest, fmt.Errorf("expected a multipart form: %w", err))
		return nil, false
	}

	uploads, err := readUploads(form)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return nil, false
	}
	if len(uploads) == 0 {
		s.fail(c, http.StatusBadRequest, errors.New("no files in the sales or purchase fields"))
		return nil, false
	}

	res, err := s.runner.Run(c.Request.Context(), uploads)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return nil, false
	}

	if s.opts.Store != nil {
		if err := s.opts.Store.SaveRun(c.Request.Context(), res); err != nil {
			log := s.requestLog(c)
			log.Warn().Err(err).Str("run_id", res.RunID).Msg("Failed to record run")
		}
	}
	return res, true
}

// readUploads collects the sales files first, then the purchase files, each in
// form order.
func readUploads(form *multipart.Form) ([]pipeline.Upload, error) {
	var uploads []pipeline.Upload
	for _, class := range []models.DocumentClass{models.ClassSales, models.ClassPurchase} {
		for _, fh := range form.File[string(class)] {
			data, err := readFile(fh)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
			}
			uploads = append(uploads, pipeline.Upload{Filename: fh.Filename, Class: class, Data: data})
		}
	}
	return uploads, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	log := s.requestLog(c)
	log.Warn().Err(err).Int("status", status).Msg("Request failed")
	c.AbortWithStatusJSON(status, gin.H{
		"error":      err.Error(),
		"request_id": c.GetString("request_id"),
	})
}

func (s *Server) requestLog(c *gin.Context) zerolog.Logger {
	return logger.WithRequestID(c.GetString("request_id"))
}
