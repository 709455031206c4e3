package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatsync/pkg/archive"
	"chatsync/pkg/config"
	"chatsync/pkg/conn"
	"chatsync/pkg/engine"
	"chatsync/pkg/httpapi"
	"chatsync/pkg/rest"
	"chatsync/pkg/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	sess := session.New(cfg.Token, cfg.UserID, cfg.UserName)
	backend := rest.NewClient(cfg.APIBaseURL, sess)
	transport := conn.NewManager(conn.Config{BaseURL: cfg.WSBaseURL}, sess, sugar)
	eng := engine.New(sess, transport, backend, sugar)

	if cfg.ArchiveDSN != "" {
		pool, err := archive.Connect(context.Background(), cfg.ArchiveDSN)
		if err != nil {
			sugar.Fatalw("archive connect failed", "error", err)
		}
		defer pool.Close()
		store := archive.NewPostgresStore(pool)
		eng.Reconciler().SetArchive(store)
		eng.Tracker().SetArchive(store)
		sugar.Infow("message archive enabled")
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		sugar.Fatalw("engine start failed", "error", err)
	}
	defer eng.Stop()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	apiHandler := httpapi.NewHandler(eng)
	apiHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("listen failed", "error", err)
		}
	}()
	sugar.Infow("read API listening", "port", cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("forced shutdown", "error", err)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func corsConfig(allowedOrigins string) cors.Config {
	var origins []string
	for _, p := range strings.Split(allowedOrigins, ",") {
		if o := strings.TrimSpace(p); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
}
