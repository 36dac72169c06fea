// Package httpapi exposes a session over JSON/HTTP with gin.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/ihtai/internal/errs"
	"github.com/danielpatrickdp/ihtai/internal/logging"
	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/session"
	"github.com/danielpatrickdp/ihtai/internal/wire"
)

// #region server
// Server routes HTTP requests to one session.
type Server struct {
	sess      *session.Session
	logger    *slog.Logger
	clientLog *slog.Logger
}

// New builds a server. clientLog receives records posted to /v1/log; nil loggers use
// slog.Default.
func New(sess *session.Session, logger, clientLog *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if clientLog == nil {
		clientLog = logger.With("source", "client")
	}
	return &Server{sess: sess, logger: logger, clientLog: clientLog}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), CORS(), Observe(s.logger))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	RegisterRoutes(r.Group("/v1"), s)
	return r
}

// RegisterRoutes mounts the API under g.
func RegisterRoutes(g *gin.RouterGroup, s *Server) {
	g.POST("/initialize", s.handleInitialize)
	g.POST("/initialize-from-store", s.handleInitializeFromStore)
	g.POST("/nearest", s.handleNearest)
	g.PUT("/timesteps", s.handleAddTimeStep)
	g.POST("/update-score", s.handleUpdateScore)
	g.POST("/best-next-action", s.handleBestNextAction)
	g.POST("/split", s.handleSplit)
	g.POST("/access-rate", s.handleAccessRate)
	g.POST("/step", s.handleStep)
	g.GET("/cells", s.handleCells)
	g.GET("/cells/:key/actions", s.handleActions)
	g.DELETE("/cells/:key", s.handleDeleteCell)
	g.GET("/journal", s.handleJournal)
	g.POST("/log", s.handleLog)
	g.DELETE("/state", s.handleClear)
}

// #endregion server

// #region lifecycle-handlers
func (s *Server) handleHealth(c *gin.Context) {
	ix := s.sess.Index()
	c.JSON(http.StatusOK, wire.HealthResponse{
		Status:      "healthy",
		Session:     s.sess.ID(),
		Initialized: ix.Initialized(),
		Cells:       ix.CellCount(),
		Window:      s.sess.Window().Len(),
	})
}

func (s *Server) handleInitialize(c *gin.Context) {
	var req wire.InitializeRequest
	if !s.bind(c, &req) {
		return
	}
	created, err := s.sess.Initialize(c.Request.Context(), req.StartingData, req.PossibleActionValues)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.InitializeResponse{Created: created, Cells: s.sess.Index().CellCount()})
}

func (s *Server) handleInitializeFromStore(c *gin.Context) {
	var req wire.InitializeFromStoreRequest
	if !s.bind(c, &req) {
		return
	}
	n, err := s.sess.InitializeFromStore(c.Request.Context(), req.PossibleActionValues)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.InitializeFromStoreResponse{Cells: n})
}

func (s *Server) handleClear(c *gin.Context) {
	if err := s.sess.Clear(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// #endregion lifecycle-handlers

// #region cell-handlers
func (s *Server) handleNearest(c *gin.Context) {
	var p point.Point
	if !s.bind(c, &p) {
		return
	}
	key, err := s.sess.Nearest(c.Request.Context(), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.NearestResponse{PatternString: key})
}

func (s *Server) handleBestNextAction(c *gin.Context) {
	var req wire.CellRequest
	if !s.bind(c, &req) {
		return
	}
	row, err := s.sess.BestNextAction(c.Request.Context(), req.PatternString)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.BestActionResponse{PatternString: point.NormalizeKey(req.PatternString), Action: row})
}

func (s *Server) handleSplit(c *gin.Context) {
	var req wire.SplitRequest
	if !s.bind(c, &req) {
		return
	}
	key, err := s.sess.Split(c.Request.Context(), req.Original, req.NewPoint)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.SplitResponse{PatternString: key})
}

func (s *Server) handleAccessRate(c *gin.Context) {
	var req wire.CellRequest
	if !s.bind(c, &req) {
		return
	}
	r, err := s.sess.AccessRate(c.Request.Context(), req.PatternString)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.AccessRateResponse{PatternString: point.NormalizeKey(req.PatternString), UpdatesPerMinute: r})
}

func (s *Server) handleDeleteCell(c *gin.Context) {
	key := point.NormalizeKey(c.Param("key"))
	if err := s.sess.DeleteCell(c.Request.Context(), key); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.DeleteResponse{Deleted: key})
}

func (s *Server) handleCells(c *gin.Context) {
	cells, err := s.sess.Cells(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.CellsResponse{Cells: cells})
}

func (s *Server) handleActions(c *gin.Context) {
	key := point.NormalizeKey(c.Param("key"))
	rows, err := s.sess.Actions(c.Request.Context(), key)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.ActionsResponse{PatternString: key, Actions: rows})
}

func (s *Server) handleJournal(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(c, errors.Join(errs.ErrValidation, err))
			return
		}
		limit = n
	}
	entries, err := s.sess.Journal(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.JournalResponse{Entries: entries})
}

// #endregion cell-handlers

// #region cycle-handlers
func (s *Server) handleAddTimeStep(c *gin.Context) {
	var req wire.TimeStepRequest
	if !s.bind(c, &req) {
		return
	}
	n := s.sess.AddTimeStep(req.ActionKey, req.StateKey, *req.Score)
	c.JSON(http.StatusOK, wire.TimeStepResponse{Length: n})
}

func (s *Server) handleUpdateScore(c *gin.Context) {
	credit, err := s.sess.UpdateScore(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.UpdateScoreResponse(credit))
}

func (s *Server) handleStep(c *gin.Context) {
	var req wire.StepRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.sess.Step(c.Request.Context(), session.StepInput{
		Point:       req.Point,
		ActionTaken: req.ActionTaken,
		Score:       *req.Score,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.NewStepResponse(res))
}

func (s *Server) handleLog(c *gin.Context) {
	var req wire.LogRequest
	if !s.bind(c, &req) {
		return
	}
	level, err := logging.ParseLevel(req.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	args := make([]any, 0, 2*len(req.Fields))
	for k, v := range req.Fields {
		args = append(args, k, v)
	}
	s.clientLog.Log(c.Request.Context(), level, req.Msg, args...)
	c.Status(http.StatusNoContent)
}

// #endregion cycle-handlers

// #region errors
// bind decodes and validates the JSON body, answering 400 itself on failure.
func (s *Server) bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		s.fail(c, errors.Join(errs.ErrValidation, err))
		return false
	}
	if err := wire.Validate(v); err != nil {
		s.fail(c, err)
		return false
	}
	return true
}

func (s *Server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "route", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, wire.ErrorResponse{Error: err.Error()})
}

// StatusFor maps sentinel errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNoSuchCell):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAlreadyExists), errors.Is(err, errs.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, errs.ErrInsufficientHistory), errors.Is(err, errs.ErrNotInitialized):
		return http.StatusPreconditionFailed
	case errors.Is(err, errs.ErrCapacity):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// #endregion errors
