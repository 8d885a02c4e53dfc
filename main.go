package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mention-engine/database"
	"mention-engine/engine"
	"mention-engine/handlers"
	"mention-engine/middleware"
	"mention-engine/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using system environment variables")
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	db, err := database.Open()
	if err != nil {
		log.Fatalf("❌ Failed to initialize store: %v", err)
	}

	if err := database.Notify(db, "tasks_channel"); err != nil {
		log.Printf("⚠️  Failed to create NOTIFY trigger: %v", err)
	}

	clock := services.NewRealClock()

	platforms := parsePlatforms(os.Getenv("SOCIAL_PLATFORMS"))
	historyDays := 7
	if v := os.Getenv("SOCIAL_MEDIA_API_HISTORY_LAST_DAYS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			historyDays = parsed
		}
	}

	gw := services.NewHTTPGateway(os.Getenv("SOCIAL_MEDIA_API_URL"), os.Getenv("SOCIAL_MEDIA_API_KEY"), 30*time.Second)

	breakers := services.NewBreakerRegistry(db, clock, 5, 60*time.Second, func(key string, snap services.BreakerSnapshot) {
		log.Printf("[breaker:%s] state change -> %s (failures=%d)", key, snap.State, snap.Failures)
	})

	social := services.NewSocialGateway(gw, breakers, services.DefaultRetryConfig(), clock, platforms, historyDays)

	store := engine.NewPostgresStore(db)
	mentionEngine := engine.NewEngine(store, social, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mentionEngine.Start(ctx)

	if dsn := postgresDSN(); dsn != "" {
		mentionEngine.ListenForTasks(dsn, "tasks_channel")
	}

	jwtExpiry := 24 * time.Hour
	if v := os.Getenv("JWT_EXPIRES_IN"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			jwtExpiry = parsed
		}
	}
	issuer := middleware.NewTokenIssuer(os.Getenv("JWT_SECRET"), jwtExpiry)

	router := gin.Default()
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	mentionsHandler := handlers.NewMentionsHandler(mentionEngine)
	authHandler := handlers.NewAuthHandler(db, issuer)
	statusHandler := handlers.NewStatusHandler(social)

	router.POST("/v1/users/login", authHandler.Login)
	router.GET("/v1/status", statusHandler.Liveness)
	router.GET("/v1/status/health", statusHandler.Health)

	v1 := router.Group("/v1")
	v1.Use(middleware.RequireBearer(issuer))
	{
		v1.GET("/mentions", mentionsHandler.ListMentions)
		v1.PUT("/mentions/:id", mentionsHandler.UpdateMention)
		v1.POST("/mentions/:id/reply", mentionsHandler.ReplyToMention)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8070"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("🚀 Server starting on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-quit
	log.Println("🛑 Shutting down server...")

	mentionEngine.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server exited gracefully")
}

func parsePlatforms(raw string) []string {
	if raw == "" {
		return []string{"default"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func postgresDSN() string {
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	sslmode := os.Getenv("DB_SSLMODE")
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, os.Getenv("DB_PORT"), os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), os.Getenv("DB_NAME"), sslmode)
}
