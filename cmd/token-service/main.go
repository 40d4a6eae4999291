package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hms/token-service/internal/booking"
	"hms/token-service/internal/config"
	"hms/token-service/internal/httpapi"
	"hms/token-service/internal/hub"
	"hms/token-service/internal/models"
	"hms/token-service/internal/store"
	"hms/token-service/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type hubNotifier struct {
	hub *hub.Hub
}

func (n *hubNotifier) Notify(event booking.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	meta := hub.Subscription{}
	if event.Serving != nil {
		meta.Department = event.Serving.Department
	} else {
		meta.Department = event.Token.Department
		meta.BookingDate = event.Token.BookingDate
	}
	n.hub.Broadcast(payload, meta)
}

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("token-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st := store.Open(cfg.DataFile)
	h := hub.New()
	manager := booking.NewManager(st, booking.Options{Notifier: &hubNotifier{hub: h}})
	handler := httpapi.NewHandler(manager)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		PhonePerMinute: cfg.PhoneLimitPerMinute,
		PhoneBurst:     cfg.PhoneLimitBurst,
	})

	mux := http.NewServeMux()
	sockjsHandler := sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{
				Department:  parsed.Department,
				BookingDate: parsed.BookingDate,
			})
		}
	})
	mux.Handle("/realtime/", sockjsHandler)
	mux.Handle("/", handler.Routes())

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "token-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("token-service listening on %s data_file=%s", server.Addr, cfg.DataFile)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		if cfg.NoShowGrace <= 0 || cfg.NoShowInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.NoShowInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			count, err := manager.ExpireNoShows(ctx, time.Now().Add(-cfg.NoShowGrace), cfg.NoShowBatchSize)
			cancel()
			if err != nil {
				log.Printf("no-show sweep error: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("no-show sweep marked %d tokens", count)
			}
		}
	}()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.DailySummaryCron, func() {
		today := time.Now().Format(models.DateLayout)
		report := manager.Statistics(context.Background(), booking.StatsFilter{FromDate: today, ToDate: today})
		log.Printf("daily summary date=%s total=%d completed=%d cancelled=%d no_show=%d completion_rate=%.2f",
			today, report.TotalTokens,
			report.ByStatus[models.StatusCompleted],
			report.ByStatus[models.StatusCancelled],
			report.ByStatus[models.StatusNoShow],
			report.CompletionRate)
	}); err != nil {
		log.Printf("daily summary schedule error: %v", err)
	}
	scheduler.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	scheduler.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := st.Flush(); err != nil {
		log.Printf("final flush error: %v", err)
	}
}
