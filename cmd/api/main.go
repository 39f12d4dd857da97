package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediboard.org/internal/audit"
	"mediboard.org/internal/auth"
	"mediboard.org/internal/config"
	"mediboard.org/internal/httpapi"
	"mediboard.org/internal/obs"
	"mediboard.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		principals auth.PrincipalStore
		revoked    auth.RevocationStore
		patients   auth.PatientDirectory
		sink       audit.Sink = audit.NewLogSink()
		probe      httpapi.ReadyProbe
		pgStore    *pg.Store
		pgSink     *pg.AuditSink
	)
	if cfg.PGDSN != "" {
		pgStore, err = pg.Open(cfg.PGDSN,
			pg.WithMaxLoginAttempts(cfg.MaxLoginAttempts),
			pg.WithLockoutDuration(cfg.LockoutDuration),
		)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatalf("schema: %v", err)
		}
		cancel()
		principals, revoked, patients = pgStore, pgStore, pgStore
		pgSink = pg.NewAuditSink(pgStore)
		sink = pgSink
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		mem := auth.NewMemoryStore(
			auth.WithMaxLoginAttempts(cfg.MaxLoginAttempts),
			auth.WithLockoutDuration(cfg.LockoutDuration),
		)
		principals, revoked, patients = mem, mem, mem
		log.Println("MEDIBOARD_PG_DSN is empty, using in-memory store")
	}

	tokens, err := auth.NewTokenService(cfg.SigningKeys, revoked,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	svc, err := auth.NewService(principals, tokens,
		auth.WithHasher(auth.NewHasher(cfg.HashCost)),
		auth.WithAuditSink(sink),
	)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	// Expired revocation entries are garbage; sweep them in the background.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := revoked.PurgeExpired(sweepCtx, time.Now()); err != nil {
					log.Printf("purge revocations: %v", err)
				}
			}
		}
	}()

	api := httpapi.New(probe, version, svc, patients)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting mediboard-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv = httpapi.NewGRPCServer(probe)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		log.Printf("Starting gRPC health on %s", cfg.GRPCAddr)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	if pgSink != nil {
		pgSink.Close()
	}
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
