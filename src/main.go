package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"rentals/src/boot"
	"rentals/src/config"
	"rentals/src/lib"
	"rentals/src/middlewares"
	"rentals/src/types"
	"regexp"
	"syscall"
	"time"

	"github.com/covalenthq/lumberjack"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const (
	apiPrefix string = "/api/v1"
)

func setupRouter(app *boot.App) *gin.Engine {
	registerValidators()
	router := gin.Default()
	router.Use(middlewares.SecureHeaders)
	router.Use(corsMiddleware(app.Config))
	router = maintenanceModeMiddleware(router, app.Config)
	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})

	apiv1 := router.Group(apiPrefix)
	stripeWebhookRoute(apiv1, app)

	authorized := apiv1.Group("")
	authorized.Use(middlewares.Auth([]byte(app.Config.JWTSecret)))
	{
		authorized = bookingHandlers(authorized, app)
		authorized = disputeHandlers(authorized, app)
		authorized = payoutHandlers(authorized, app)
		authorized = policyHandlers(authorized, app)
		ledgerHandlers(authorized, app)
	}
	return router
}

func corsMiddleware(cfg config.Config) gin.HandlerFunc {
	if cfg.Env == types.Local {
		return cors.Default()
	}
	cc := cors.DefaultConfig()
	cc.AllowMethods = append(cc.AllowMethods, "GET", "POST", "PATCH", "PUT", "DELETE", "HEAD")
	cc.AllowHeaders = append(cc.AllowHeaders, "Origin", "Authorization")
	cc.AllowOriginFunc = func(origin string) bool {
		if cfg.AppHost == "" {
			return false
		}
		match, _ := regexp.MatchString(cfg.AppHost, origin)
		return match
	}
	cc.AllowCredentials = true
	cc.AllowAllOrigins = false
	return cors.New(cc)
}

func maintenanceModeMiddleware(g *gin.Engine, cfg config.Config) *gin.Engine {
	g.Use(func(ctx *gin.Context) {
		if cfg.MaintenanceMode {
			err := errors.New("server is under maintenance")
			log.Println(err.Error())
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, err.Error())
			return
		}
	})
	return g
}

func initLogger(cfg config.Config) {
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		log.Printf("Could not create log directory: %s\n", err.Error())
		return
	}
	serverLogs := path.Join(cfg.LogDir, "server.log")
	apiLogs := path.Join(cfg.LogDir, "api.log")
	gin.ForceConsoleColor()

	gin.DefaultWriter = io.MultiWriter(&lumberjack.Logger{
		Filename:   apiLogs,
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}, os.Stdout)
	log.SetOutput(io.MultiWriter(&lumberjack.Logger{
		Filename:   serverLogs,
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}, os.Stderr))
}

func main() {
	if os.Getenv("API_ENV") == string(types.Local) {
		cwd, _ := os.Getwd()
		if err := godotenv.Load(path.Join(cwd, ".env")); err != nil {
			log.Printf("No .env loaded: %s\n", err.Error())
		}
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %s", err)
	}
	initLogger(cfg)
	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := boot.InitDb(cfg)
	if err != nil {
		log.Fatalf("Failed to connect database: %s", err)
	}
	notifier := boot.NewNotifier(cfg)
	app := boot.New(cfg, conn, boot.NewGateway(cfg), lib.NewHTTPCatalog(cfg.CatalogURL), notifier, boot.NewLocker(cfg), nil)
	if err := app.InitScheduler(); err != nil {
		log.Fatalf("Failed to start scheduler: %s", err)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: setupRouter(app),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %s\n", err.Error())
	}
	app.StopScheduler()
	if closer, ok := notifier.(interface{ Close() }); ok {
		closer.Close()
	}
}
