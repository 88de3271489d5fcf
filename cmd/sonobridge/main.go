package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"sonobridge/internal/dispatch"
	"sonobridge/internal/driver"
	"sonobridge/internal/driver/mpd"
	"sonobridge/internal/hub"
	"sonobridge/internal/server"
	"sonobridge/internal/state"
	"sonobridge/internal/subs"
)

func main() {
	listenAddr := flag.String("listen", envOr("LISTEN_ADDR", ":8737"), "address to listen on")
	devicesSpec := flag.String("devices", envOr("DEVICES", ""), "device fleet as Name=host:port,...")
	ioLimit := flag.Int64("io-limit", 4, "max concurrent device calls")
	corsOrigin := flag.String("cors-origin", os.Getenv("CORS_ORIGIN"), "allowed CORS origin for /api")
	logFile := flag.String("log-file", os.Getenv("LOG_FILE"), "also log to this file")
	flag.Parse()

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			log.Printf("opening log file: %v", err)
		} else {
			defer f.Close()
			log.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}

	if *devicesSpec == "" {
		log.Fatal("no devices configured; set --devices or DEVICES (Name=host:port,...)")
	}
	endpoints, err := mpd.ParseEndpoints(*devicesSpec)
	if err != nil {
		log.Fatalf("parsing devices: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drv := driver.Limit(mpd.New(endpoints), *ioLimit)

	h := hub.New()
	st := state.New(h)
	sm := subs.New(drv, st)
	d := dispatch.New(ctx, h, st, drv, sm)

	var opts []server.Option
	if *corsOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(*corsOrigin))
	}
	srv := server.New(h, st, drv, sm, d, opts...)

	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	srv.Bootstrap(bootCtx)
	cancel()

	httpServer := &http.Server{
		Addr:              *listenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("sonobridge listening on %s", *listenAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	sm.UnsubscribeAll(true)
	st.Close()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
