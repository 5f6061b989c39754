// Package server exposes the validator over HTTP.
package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/config"
	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/verify"
)

const (
	documentField = "document"
	detachedField = "detached"
)

type Server struct {
	cfg  config.ServerConfig
	opts *verify.VerifyOptions
	r    *gin.Engine
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New returns a server validating with opts. The options are shared by
// every request and must not be modified afterwards.
func New(cfg config.ServerConfig, opts *verify.VerifyOptions) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	s := &Server{cfg: cfg, opts: opts, r: r}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.r.POST("/validate", s.handleValidate)
	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	log.Notice("listening on ", s.cfg.Listen)
	return s.r.Run(s.cfg.Listen)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info(c.Request.Method, " ", c.Request.URL.Path, " ", c.Writer.Status(), " ", time.Since(start))
	}
}

// handleValidate expects a multipart form with the signed document and,
// for detached signatures, the signed content.
func (s *Server) handleValidate(c *gin.Context) {
	if s.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	}

	doc, err := formDocument(c, documentField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorCode(c, http.StatusRequestEntityTooLarge, "TOO_LARGE", "upload exceeds the configured limit")
			return
		}
		writeErrorCode(c, http.StatusBadRequest, "MISSING_DOCUMENT", "multipart field 'document' is required")
		return
	}

	v := verify.NewSignedDocumentValidator(doc, s.opts)
	if _, err := c.FormFile(detachedField); err == nil {
		detached, err := formDocument(c, detachedField)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_DETACHED", err.Error())
			return
		}
		v.ExternalContent = detached
	}

	r, err := v.ValidateDocument()
	if err != nil {
		log.Info("rejected ", doc.Name(), ": ", err)
		writeErrorCode(c, http.StatusUnprocessableEntity, "INVALID_DOCUMENT", err.Error())
		return
	}
	c.Header("X-Report-ID", r.ID)
	c.JSON(http.StatusOK, r)
}

func formDocument(c *gin.Context, field string) (*common.MemoryDocument, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, err
	}
	data, err := readFile(fh)
	if err != nil {
		return nil, err
	}
	return common.NewMemoryDocument(data, fh.Filename, common.MimeTypeFromName(fh.Filename)), nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
