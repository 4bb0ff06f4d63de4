package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/avatar-stream/internal/config"
	"github.com/saker-ai/avatar-stream/internal/emotion"
	"github.com/saker-ai/avatar-stream/internal/frame"
	"github.com/saker-ai/avatar-stream/internal/metrics"
	"github.com/saker-ai/avatar-stream/internal/protocol"
	"github.com/saker-ai/avatar-stream/internal/stream"
)

type textRequest struct {
	Text string `json:"text" form:"text"`
}

type speakRequest struct {
	Text      string `json:"text" form:"text"`
	AudioPath string `json:"audio_path" form:"audio_path"`
}

type analyzeRequest struct {
	AudioPath  string `json:"audio_path" form:"audio_path"`
	Expression string `json:"expression" form:"expression"`
}

type expressionRequest struct {
	Expression string `json:"expression" form:"expression"`
}

type motionRequest struct {
	Motion string `json:"motion" form:"motion"`
}

type paramRequest struct {
	Name  string   `json:"name" form:"name"`
	Value *float64 `json:"value" form:"value"`
}

// NewRouter executes the newRouter function.
func NewRouter(cfg appconfig.Config, hub *stream.Hub, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "peers": hub.Peers()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws/live2d", func(c *gin.Context) {
		hub.Handle(c.Writer, c.Request)
	})

	api := router.Group("/api/live2d")
	api.GET("/models", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": appconfig.ScanModels(cfg.ModelsDir)})
	})
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Status())
	})
	api.POST("/emotion", func(c *gin.Context) {
		var req textRequest
		if !bind(c, &req) {
			return
		}
		final, rule, params := hub.Preview(c.Request.Context(), req.Text)
		resp := gin.H{
			"expression":        final.Label,
			"intensity":         final.Intensity,
			"source":            final.Source,
			"primary_emotion":   rule.Label,
			"secondary_emotion": nil,
			"parameters":        params,
			"raw_text":          rule.RawText,
		}
		if rule.Secondary != "" {
			resp["secondary_emotion"] = rule.Secondary
		}
		c.JSON(http.StatusOK, resp)
	})
	api.POST("/analyze_text", func(c *gin.Context) {
		var req textRequest
		if !bind(c, &req) {
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
			return
		}
		final, _ := hub.AnalyzeText(c.Request.Context(), req.Text)
		c.JSON(http.StatusOK, gin.H{"expression": final.Label, "intensity": final.Intensity, "source": final.Source})
	})
	api.POST("/speak", func(c *gin.Context) {
		var req speakRequest
		if !bind(c, &req) {
			return
		}
		startSpeak(c, hub, stream.SpeakRequest{Text: req.Text, AudioPath: req.AudioPath})
	})
	api.POST("/analyze", func(c *gin.Context) {
		var req analyzeRequest
		if !bind(c, &req) {
			return
		}
		if strings.TrimSpace(req.AudioPath) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "audio_path is required"})
			return
		}
		label, ok := emotion.ParseLabel(req.Expression)
		if !ok {
			label = emotion.Neutral
		}
		startSpeak(c, hub, stream.SpeakRequest{AudioPath: req.AudioPath, Expression: label})
	})
	api.POST("/stop", func(c *gin.Context) {
		hub.Stop()
		c.JSON(http.StatusOK, gin.H{"status": protocol.SpeakingStopped})
	})
	api.POST("/expression", func(c *gin.Context) {
		var req expressionRequest
		if !bind(c, &req) {
			return
		}
		res, err := hub.SetExpression(req.Expression)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"expression": res.Label})
	})
	api.POST("/motion", func(c *gin.Context) {
		var req motionRequest
		if !bind(c, &req) {
			return
		}
		if strings.TrimSpace(req.Motion) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "motion is required"})
			return
		}
		hub.PlayMotion(req.Motion)
		c.JSON(http.StatusOK, gin.H{"motion": req.Motion})
	})
	api.POST("/param", func(c *gin.Context) {
		var req paramRequest
		if !bind(c, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" || req.Value == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and value are required"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": req.Name, "value": hub.SetParam(req.Name, *req.Value)})
	})
	api.PATCH("/config", func(c *gin.Context) {
		var patch frame.ConfigPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		applied, skipped := hub.Configure(patch)
		c.JSON(http.StatusOK, gin.H{
			"fps":         applied.FPS,
			"interval_ms": applied.IntervalMS,
			"mouth_gain":  applied.MouthGain,
			"skipped":     skipped,
		})
	})

	if cfg.ModelsDir != "" {
		router.Static("/models", cfg.ModelsDir)
		logger.Info("serving disk assets", zap.String("route", "/models"), zap.String("source", cfg.ModelsDir))
	}

	return router
}

func startSpeak(c *gin.Context, hub *stream.Hub, req stream.SpeakRequest) {
	info, err := hub.Speak(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, protocol.ErrInvalidAction),
			errors.Is(err, stream.ErrNoAudioSource),
			errors.Is(err, stream.ErrInvalidAudioPath):
			status = http.StatusBadRequest
		case errors.Is(err, stream.ErrAudioNotFound):
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "streaming",
		"expression":  info.Expression,
		"intensity":   info.Intensity,
		"frame_count": info.FrameCount,
		"duration_ms": info.DurationMS,
	})
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBind(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
