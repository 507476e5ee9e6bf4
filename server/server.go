package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"countcoach/cache"
	"countcoach/config"
	"countcoach/core/analysis"
	"countcoach/core/auth"
	"countcoach/core/overlay"
	"countcoach/core/practice"
	"countcoach/db"
	"countcoach/logger"
	"countcoach/model"
	"countcoach/repository"
	"countcoach/storage"

	"github.com/gorilla/mux"
)

// Start initializes dependencies and runs the HTTP server until interrupted.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
	})

	auth.SetSecret(cfg.JWTSecret)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if err := storage.InitMinio(cfg); err != nil {
		logger.Fatal("failed to initialize MinIO", logger.ErrorField(err))
	}

	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer db.DB.Close()

	if err := db.InitDB(); err != nil {
		logger.Fatal("failed to initialize database schema", logger.ErrorField(err))
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("failed to connect GORM", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := db.AutoMigrateModels(&model.PracticeSession{}); err != nil {
		logger.Fatal("failed to migrate models", logger.ErrorField(err))
	}

	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to Redis", logger.ErrorField(err))
	}
	defer cache.CloseRedis()

	ensureDirExists(cfg.UploadDir)

	// Overlay sample assets live in the bucket unless a local directory is
	// configured; either way they are loaded once and kept decoded.
	var sampleSource overlay.Source
	if cfg.SampleDir != "" {
		sampleSource = overlay.DirSource{Dir: cfg.SampleDir}
	} else {
		sampleSource = storage.SampleSource{Cfg: cfg}
	}
	store := overlay.NewStore(sampleSource)
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	status, err := store.EnsureLoaded(loadCtx)
	cancelLoad()
	if err != nil {
		logger.Warn("overlay samples unavailable, overlay disabled until assets appear",
			logger.ErrorField(err))
	} else if status == overlay.StatusPartial {
		logger.Warn("overlay sample set incomplete, subdivision sounds disabled")
	}
	if cfg.SampleDir != "" {
		stopWatch, err := store.WatchDir(cfg.SampleDir)
		if err != nil {
			logger.Warn("sample directory watch failed", logger.ErrorField(err))
		} else {
			defer stopWatch()
		}
	}

	trackRepo := repository.NewMySQLTrackRepository()
	userRepo := repository.NewMySQLUserRepository(db.DB)
	sessionRepo := repository.NewGormSessionRepository(db.GormDB)
	analyzer := analysis.NewClient(cfg.AnalyzerURL, cfg.AnalyzerTimeout)

	hub := practice.NewHub()
	go hub.Run()
	defer hub.Stop()

	registry := practice.NewRegistry()

	apiHandler := NewAPIHandler(trackRepo, userRepo, sessionRepo, analyzer, store, sampleSource, hub, registry, cfg)

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	// Auth.
	router.HandleFunc("/api/auth/register", apiHandler.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)

	// Tracks.
	router.HandleFunc("/api/tracks", apiHandler.AuthMiddleware(apiHandler.GetTracksHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks", apiHandler.AuthMiddleware(apiHandler.UploadTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{id}", apiHandler.AuthMiddleware(apiHandler.DeleteTrackHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/tracks/{id}/audio", apiHandler.AuthMiddleware(apiHandler.TrackAudioHandler)).Methods(http.MethodGet)

	// Beat analysis.
	router.HandleFunc("/api/tracks/{id}/analyze", apiHandler.AuthMiddleware(apiHandler.AnalyzeTrackHandler)).Methods(http.MethodPost)

	// Practice sessions.
	router.HandleFunc("/api/sessions", apiHandler.AuthMiddleware(apiHandler.CreateSessionHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions", apiHandler.AuthMiddleware(apiHandler.GetSessionsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{id}", apiHandler.AuthMiddleware(apiHandler.GetSessionHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{id}", apiHandler.AuthMiddleware(apiHandler.UpdateSessionHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/sessions/{id}", apiHandler.AuthMiddleware(apiHandler.DeleteSessionHandler)).Methods(http.MethodDelete)

	// Overlay assets and status.
	router.HandleFunc("/api/overlay/samples/{key}", apiHandler.SampleHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/overlay/status", apiHandler.OverlayStatusHandler).Methods(http.MethodGet)

	// Live practice websocket.
	router.HandleFunc("/ws/practice/{id}", apiHandler.PracticeWSHandler)

	server.Handler = router

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("server stopped")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func ensureDirExists(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			logger.Fatal("failed to create directory",
				logger.String("path", path), logger.ErrorField(err))
		}
	} else if err != nil {
		logger.Fatal("failed to check directory",
			logger.String("path", path), logger.ErrorField(err))
	}
}
