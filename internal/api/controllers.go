package api

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pi42-grid/pkg/cache"
)

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"code":  "UNAVAILABLE",
		"error": what + " not configured",
	})
}

func (s *Server) getStatus(c *gin.Context) {
	if s.Engine == nil {
		unavailable(c, "engine")
		return
	}
	c.JSON(http.StatusOK, s.Engine.SystemStatus())
}

func (s *Server) getInstrumentStatus(c *gin.Context) {
	if s.Engine == nil {
		unavailable(c, "engine")
		return
	}
	symbol := strings.ToUpper(c.Param("symbol"))
	st, ok := s.Engine.InstrumentStatus(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "UNKNOWN_SYMBOL",
			"error": "symbol is not configured",
		})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getPositions(c *gin.Context) {
	if s.Store == nil {
		unavailable(c, "state store")
		return
	}
	snap := s.Store.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"loaded":     snap.PositionsLoaded,
		"updated_at": snap.PositionsAt,
		"positions":  snap.Positions,
	})
}

func (s *Server) getOrders(c *gin.Context) {
	if s.Store == nil {
		unavailable(c, "state store")
		return
	}
	snap := s.Store.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"loaded":     snap.OrdersLoaded,
		"updated_at": snap.OrdersAt,
		"orders":     snap.Orders,
	})
}

func (s *Server) getPrices(c *gin.Context) {
	if s.Prices == nil {
		unavailable(c, "price table")
		return
	}
	snap := s.Prices.Snapshot()
	out := make([]cache.PriceTick, 0, len(snap))
	for _, tick := range snap {
		out = append(out, tick)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	c.JSON(http.StatusOK, gin.H{"prices": out, "stats": s.Prices.Stats()})
}

func (s *Server) getSubmissions(c *gin.Context) {
	if s.Submissions == nil {
		unavailable(c, "database")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_LIMIT",
			"error": "limit must be between 1 and 1000",
		})
		return
	}
	symbol := strings.ToUpper(c.Query("symbol"))
	rows, err := s.Submissions.ListSubmissions(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": rows})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		unavailable(c, "metrics")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getSystem(c *gin.Context) {
	resp := gin.H{
		"meta":       s.Meta,
		"uptime_sec": int64(time.Since(s.start).Seconds()),
	}
	if s.RESTUsage != nil {
		requests, throttled, waited := s.RESTUsage.Usage()
		resp["rest"] = gin.H{
			"requests":  requests,
			"throttled": throttled,
			"waited_ms": waited.Milliseconds(),
		}
	}
	if s.Bus != nil {
		resp["events_dropped"] = s.Bus.Dropped()
	}
	c.JSON(http.StatusOK, resp)
}
