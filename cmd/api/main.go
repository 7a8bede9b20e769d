package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/config"
	"presence/internal/httpmiddleware"
	"presence/internal/qr"
	"presence/internal/queue"
	"presence/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()
	if db != nil {
		if err := db.EnsureSchema(context.Background()); err != nil {
			log.Printf("warning: schema bootstrap failed: %v", err)
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:redemptions")
	}

	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo)
	manager := attendance.NewManager(svc, cfg.RotateInterval)
	defer manager.StopAll()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/students/register", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := repo.UpsertStudent(c.Request.Context(), req.StudentID); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "registration failed"})
			return
		}

		tokens, err := auth.Issue(req.StudentID, auth.RoleStudent, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = repo.SaveRefreshToken(c.Request.Context(), req.StudentID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/presenters/register", func(c *gin.Context) {
		var req struct {
			PresenterID string `json:"presenter_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.PresenterID, auth.RolePresenter, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = repo.SaveRefreshToken(c.Request.Context(), req.PresenterID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	presenters := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RolePresenter))

	presenters.POST("/lectures/:id/publish", func(c *gin.Context) {
		var req struct {
			Name            string `json:"name"`
			DurationSeconds int    `json:"duration_seconds"`
		}
		// Body is optional; rotation falls back to configured defaults.
		_ = c.ShouldBindJSON(&req)

		ttl := cfg.TokenTTL
		if req.DurationSeconds > 0 {
			ttl = time.Duration(req.DurationSeconds) * time.Second
		}

		sess, err := manager.Start(c.Request.Context(), c.Param("id"), req.Name, ttl)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess.Payload())
	})

	presenters.POST("/lectures/:id/stop", func(c *gin.Context) {
		if err := manager.Stop(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "stopped"})
	})

	presenters.GET("/lectures/:id/session", func(c *gin.Context) {
		p, err := svc.CurrentSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	})

	presenters.GET("/lectures/:id/qr", func(c *gin.Context) {
		p, err := svc.CurrentSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		raw, err := p.Encode()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
			return
		}
		img, err := qr.EncodePNG(raw, cfg.QRSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", img)
	})

	students := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleStudent))

	students.POST("/scan", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		payload, err := attendance.DecodePayload(body)
		if err != nil {
			respondError(c, err)
			return
		}

		rec, err := svc.Redeem(c.Request.Context(), payload, auth.CallerID(c))
		if err != nil {
			respondError(c, err)
			return
		}

		if raw, merr := json.Marshal(rec); merr == nil {
			if perr := q.Publish(c.Request.Context(), queue.Message{Type: "redemption", Body: raw}); perr != nil {
				log.Printf("queue publish failed: %v", perr)
			}
		}

		c.JSON(http.StatusCreated, rec)
	})

	authed := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer, ""))

	authed.GET("/attendance", func(c *gin.Context) {
		lectureID := c.Query("lecture_id")
		studentID := c.Query("student_id")
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		records, err := svc.ListRecords(c.Request.Context(), lectureID, studentID, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// respondError maps redemption rejections to HTTP statuses. Every rejection
// is recoverable: the client shows the message and re-arms its scanner.
func respondError(c *gin.Context, err error) {
	var rej *attendance.Rejection
	if !errors.As(err, &rej) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusBadRequest
	switch rej.Reason {
	case attendance.ReasonExpired:
		status = http.StatusGone
	case attendance.ReasonLectureNotFound:
		status = http.StatusNotFound
	case attendance.ReasonLectureInactive, attendance.ReasonTokenMismatch, attendance.ReasonAlreadyRecorded:
		status = http.StatusConflict
	case attendance.ReasonUnauthenticated:
		status = http.StatusUnauthorized
	case attendance.ReasonStoreUnavailable:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": string(rej.Reason)})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
