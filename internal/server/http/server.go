package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/mvetrov/recordgate/internal/convert"
	"github.com/mvetrov/recordgate/internal/errs"
	"github.com/mvetrov/recordgate/internal/service"
)

// Identity headers. Authentication happens upstream; these carry whatever
// principal the caller's environment established.
const (
	headerUserIDs  = "X-User-Ids"
	headerGroupIDs = "X-Group-Ids"
)

// Server wires the record service into HTTP handlers.
type Server struct {
	svc service.RecordService
	log *zap.Logger
}

// New constructs the handler set.
func New(svc service.RecordService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log}
}

func (s *Server) create(c *gin.Context) {
	var doc map[string]any
	if err := c.ShouldBindJSON(&doc); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	rec, err := convert.ToRecord(doc)
	if err != nil {
		s.fail(c, err)
		return
	}
	created, err := s.svc.Create(c.Request.Context(), c.Param("collection"), rec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created.Doc())
}

func (s *Server) find(c *gin.Context) {
	req, ok := s.findRequest(c)
	if !ok {
		return
	}
	f, err := convert.ToFilter(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	lookups, err := convert.ToDirectives(req.Lookups)
	if err != nil {
		s.fail(c, err)
		return
	}
	docs, err := s.svc.Find(c.Request.Context(), c.Param("collection"), f, req.Scope, lookups, identity(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if docs == nil {
		docs = []map[string]any{}
	}
	c.JSON(http.StatusOK, docs)
}

func (s *Server) count(c *gin.Context) {
	req, ok := s.findRequest(c)
	if !ok {
		return
	}
	where, err := convert.ToCond(req.Where)
	if err != nil {
		s.fail(c, err)
		return
	}
	n, err := s.svc.Count(c.Request.Context(), c.Param("collection"), where, req.Scope, identity(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *Server) findByID(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	req, ok := s.findRequest(c)
	if !ok {
		return
	}
	lookups, err := convert.ToDirectives(req.Lookups)
	if err != nil {
		s.fail(c, err)
		return
	}
	doc, err := s.svc.FindByID(c.Request.Context(), c.Param("collection"), id, req.Fields, lookups, identity(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) update(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	rec, err := s.svc.UpdateByID(c.Request.Context(), c.Param("collection"), id, patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec.Doc())
}

func (s *Server) replace(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	var doc map[string]any
	if err := c.ShouldBindJSON(&doc); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	rec, err := convert.ToRecord(doc)
	if err != nil {
		s.fail(c, err)
		return
	}
	replaced, err := s.svc.ReplaceByID(c.Request.Context(), c.Param("collection"), id, rec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, replaced.Doc())
}

func (s *Server) delete(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	if err := s.svc.DeleteByID(c.Request.Context(), c.Param("collection"), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// findRequest reads the filter either from a "filter" query parameter
// (JSON, for GETs) or from the request body (query endpoint).
func (s *Server) findRequest(c *gin.Context) (*convert.FindRequest, bool) {
	var req convert.FindRequest
	if raw := c.Query("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			badRequest(c, "invalid filter parameter")
			return nil, false
		}
		return &req, true
	}
	if c.Request.Method == http.MethodPost && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body")
			return nil, false
		}
	}
	return &req, true
}

func (s *Server) recordID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid record id")
		return uuid.Nil, false
	}
	return id, true
}

func identity(c *gin.Context) service.Identity {
	return service.Identity{
		UserIDs:  splitHeader(c.GetHeader(headerUserIDs)),
		GroupIDs: splitHeader(c.GetHeader(headerGroupIDs)),
	}
}

func splitHeader(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{"code": errs.CodeValidation, "message": msg},
	})
}

// fail maps service errors onto HTTP statuses by their stable codes.
func (s *Server) fail(c *gin.Context, err error) {
	code := errs.Code(err)
	var status int
	switch code {
	case errs.CodeNotFound:
		status = http.StatusNotFound
	case errs.CodeValidation:
		status = http.StatusBadRequest
	case errs.CodeInvalidRef, errs.CodeRefConstraint:
		status = http.StatusUnprocessableEntity
	case errs.CodeImmutable, errs.CodeUniqueness, errs.CodeLimitExceeded:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
		code = "internal"
		s.log.Error("request failed", zap.Error(err))
		err = errors.New("internal error")
	}
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": err.Error()}})
}
