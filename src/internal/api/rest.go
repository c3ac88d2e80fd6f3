package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pushguard/src/internal/auth"
	"pushguard/src/internal/gateway"
	"pushguard/src/internal/guard"
	"pushguard/src/internal/intercept"
	"pushguard/src/internal/sanitize"
	"pushguard/src/internal/tasks"
)

type snapshotResponse struct {
	Version uint64            `json:"version"`
	Live    bool              `json:"live"`
	URL     string            `json:"url,omitempty"`
	At      time.Time         `json:"at"`
	Records []tasks.Record    `json:"records"`
	Tasks   []tasks.Task      `json:"tasks"`
	Repairs []sanitize.Repair `json:"repairs"`
}

func newSnapshotResponse(snap intercept.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		Version: snap.Version,
		Live:    snap.Version > 0,
		URL:     snap.URL,
		At:      snap.At,
		Records: snap.Records,
		Tasks:   snap.Tasks(),
		Repairs: snap.Report.Repairs,
	}
	if resp.Records == nil {
		resp.Records = []tasks.Record{}
	}
	if resp.Repairs == nil {
		resp.Repairs = []sanitize.Repair{}
	}
	return resp
}

func (s *Server) handleTasks(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	c.JSON(http.StatusOK, newSnapshotResponse(gw.Snapshot()))
}

func (s *Server) handleJournal(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	if gw.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	events, err := gw.Journal.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type blockedRequest struct {
	Intent string `json:"intent"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// handleBlocked receives block reports from the in-page guard.
func (s *Server) handleBlocked(c *gin.Context) {
	var req blockedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	intent := guard.ParseIntent(req.Intent)
	if intent == guard.IntentNone {
		c.JSON(http.StatusBadRequest, gin.H{"error": "intent must be delete or edit"})
		return
	}

	err := guard.ValidateID(req.ID, req.ID != "")
	if err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is valid, nothing was blocked"})
		return
	}

	gw := c.MustGet("gateway").(*gateway.Gateway)
	gw.RecordBlock(c.Request.Context(), guard.NewBlock(intent, req.ID, err))
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// handleStatic serves the built single page app. Known client routes get
// index.html; anything else goes to the catch-all login redirect.
func (s *Server) handleStatic(c *gin.Context) {
	p := c.Request.URL.Path
	if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/_guard/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusMethodNotAllowed)
		return
	}

	gw := c.MustGet("gateway").(*gateway.Gateway)
	root := gw.Config.Server.StaticDir
	file := filepath.Join(root, filepath.FromSlash(filepath.Clean("/"+p)))
	if info, err := os.Stat(file); err == nil && !info.IsDir() {
		c.File(file)
		return
	}

	if _, ok := auth.Lookup(p); !ok {
		c.Redirect(http.StatusFound, auth.RedirectLogin.Target())
		return
	}
	index := filepath.Join(root, "index.html")
	if _, err := os.Stat(index); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "static_dir has no index.html"})
		return
	}
	c.File(index)
}
