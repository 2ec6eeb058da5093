package master

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxRequestBody = 1 << 16 // 64 KB

type registerRequest struct {
	Name       string `json:"name" binding:"required"`
	Address    string `json:"address" binding:"required"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Version    string `json:"version"`
	Region     string `json:"region"`
}

type registerResponse struct {
	ID string `json:"id"`
}

type heartbeatRequest struct {
	ID      string `json:"id" binding:"required"`
	Players int    `json:"players"`
}

// NewRouter serves the listing API for reg.
func NewRouter(reg *Registry, log logrus.FieldLogger) *gin.Engine {
	log = log.WithField("component", "master")
	router := gin.New()
	router.Use(gin.Recovery(), requestLog(log), corsHeaders())

	router.GET("/servers", ListServers(reg))
	router.POST("/servers/register", limitBody(), RegisterServer(reg, log))
	router.POST("/servers/heartbeat", limitBody(), Heartbeat(reg))
	router.GET("/health", Health())
	return router
}

func requestLog(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
			"client": c.ClientIP(),
		}).Debug("request")
	}
}

func corsHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Next()
	}
}

func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)
		c.Next()
	}
}

func ListServers(reg *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.List())
	}
}

func RegisterServer(reg *Registry, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and address required"})
			return
		}

		id := reg.Register(ServerInfo{
			Name:       req.Name,
			Address:    req.Address,
			Players:    req.Players,
			MaxPlayers: req.MaxPlayers,
			Version:    req.Version,
			Region:     req.Region,
		})

		log.WithFields(logrus.Fields{"name": req.Name, "address": req.Address, "id": id}).Info("registered server")
		c.JSON(http.StatusCreated, registerResponse{ID: id})
	}
}

func Heartbeat(reg *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req heartbeatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		if !reg.Heartbeat(req.ID, req.Players) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown server"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
