package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pushguard/src/internal/gateway"
	"pushguard/src/internal/system"
)

func (s *Server) handleHealth(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	snap := gw.Cache.Last()
	c.JSON(http.StatusOK, healthResponse{
		Status:          "ok",
		Backend:         gw.Config.Backend.BaseURL,
		Observers:       gw.Transport.Len(),
		SnapshotVersion: snap.Version,
		Journal:         gw.Journal != nil,
		Runtime:         system.GetInfo(),
		Memory:          system.ReadMemory(),
	})
}

type healthResponse struct {
	Status          string        `json:"status"`
	Backend         string        `json:"backend"`
	Observers       int           `json:"observers"`
	SnapshotVersion uint64        `json:"snapshot_version"`
	Journal         bool          `json:"journal"`
	Runtime         system.Info   `json:"runtime"`
	Memory          system.Memory `json:"memory"`
}
