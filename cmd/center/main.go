package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/center"
	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/httpapi"
	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// Observability: rejestracja metryk i logger JSON.
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Połączenie z bazą (jeśli podano DSN); bez DSN działa magazyn w pamięci.
	var (
		db    *sql.DB
		store center.Store
	)
	if dsn := os.Getenv("CENTER_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = center.NewPGStore(db)
	} else {
		log.Println("CENTER_PG_DSN is empty, using the in-memory store")
		store = center.NewMemoryStore()
	}

	var opts []center.ServiceOption
	if u := os.Getenv("CENTER_PUBLIC_URL"); u != "" {
		opts = append(opts, center.WithCenterURL(u))
	}
	if raw := os.Getenv("CENTER_AUTO_REGISTER"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			log.Fatalf("CENTER_AUTO_REGISTER: %v", err)
		}
		opts = append(opts, center.WithAutoRegister(enabled))
	}
	svc, err := center.NewService(store, opts...)
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	if raw := os.Getenv("CENTER_TRUST_PROXY"); raw != "" {
		trust, err := strconv.ParseBool(raw)
		if err != nil {
			log.Fatalf("CENTER_TRUST_PROXY: %v", err)
		}
		httpapi.SetTrustProxyHeaders(trust)
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, httpapi.Config{
		Version:       version,
		AdminKey:      os.Getenv("CENTER_ADMIN_KEY"),
		IdPSecret:     os.Getenv("CENTER_IDP_SECRET"),
		RateBurst:     envInt("CENTER_RATE_BURST"),
		RatePerSec:    envInt("CENTER_RATE_PER_SEC"),
		SecureCookies: os.Getenv("CENTER_INSECURE_COOKIES") == "",
	})

	addr := os.Getenv("CENTER_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting center %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envInt(name string) int {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return n
}
