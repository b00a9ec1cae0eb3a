package cli

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/morsekob/gokob/internal/engine"
)

var startedAt = time.Now()

// startStatusServer exposes health, station status and Prometheus
// metrics over HTTP. It serves in the background; a failed listen is
// logged, not fatal, since the station itself can keep operating.
func startStatusServer(addr string, eng *engine.Engine) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Middleware: keep it lean
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"http://localhost:3000"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(startedAt).String(),
			"service": "gokob",
			"version": Version,
		})
	})
	r.GET("/status", func(c *gin.Context) {
		st := eng.Status()
		c.JSON(http.StatusOK, gin.H{
			"station_id":     st.StationID,
			"current_sender": st.CurrentSender,
			"local_active":   st.LocalActive,
			"remote_active":  st.RemoteActive,
			"key":            st.KeyStatus.String(),
			"sounder":        st.SounderStatus.String(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	go func() {
		if err := r.Run(addr); err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("status server stopped")
		}
	}()
}
