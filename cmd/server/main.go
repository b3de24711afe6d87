package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dsemenov/market/internal/cartstore"
	"github.com/dsemenov/market/internal/checkout"
	"github.com/dsemenov/market/internal/config"
	"github.com/dsemenov/market/internal/es"
	"github.com/dsemenov/market/internal/events"
	"github.com/dsemenov/market/internal/handlers"
	"github.com/dsemenov/market/internal/logging"
	"github.com/dsemenov/market/internal/mailer"
	"github.com/dsemenov/market/internal/payment"
	"github.com/dsemenov/market/internal/reset"
	"github.com/dsemenov/market/internal/session"
	httpserver "github.com/dsemenov/market/internal/transport/http"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)

	db, err := config.InitDB(context.Background(), configuration)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}

	prod, err := events.NewProducer([]string{configuration.KAFKA_ADDRESS})
	if err != nil {
		log.Fatal(err)
	}

	var mail mailer.Mailer
	if configuration.SMTP_HOST != "" {
		mail, err = mailer.NewSMTP(
			configuration.SMTP_HOST, configuration.SMTP_PORT,
			configuration.SMTP_USER, configuration.SMTP_PASS,
			configuration.MAIL_FROM,
		)
		if err != nil {
			log.Fatal(err)
		}
	} else {
		mail = &mailer.Nop{Log: logger}
	}

	sessions := session.NewManager([]byte(configuration.JWT_SECRET))
	cart := cartstore.New(db)
	gateway := payment.NewClient(configuration.PAYMENT_URL, configuration.PAYMENT_KEY)

	orchestrator := &checkout.Orchestrator{
		DB:       db,
		Cart:     cart,
		Gateway:  gateway,
		Currency: configuration.CURRENCY,
	}

	resetFlow := &reset.Flow{
		DB:                        db,
		Mailer:                    mail,
		AppURL:                    configuration.APP_URL,
		RevealNonexistentAccounts: configuration.RevealNonexistentAccounts,
	}

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID(), logging.RequestLogger(logger))

	deps := httpserver.Deps{
		AuthHandler:     &handlers.AuthHandler{DB: db, Sessions: sessions, Reset: resetFlow, Producer: prod},
		UserHandler:     &handlers.UserHandler{DB: db, Sessions: sessions},
		ItemHandler:     &handlers.ItemHandler{DB: db, Sessions: sessions, Producer: prod},
		CartHandler:     &handlers.CartHandler{DB: db, Cart: cart, Sessions: sessions, Producer: prod},
		CheckoutHandler: &handlers.CheckoutHandler{DB: db, Orchestrator: orchestrator, Sessions: sessions, Producer: prod},
	}

	if configuration.ES_URL != "" {
		esClient, err := es.NewClient(configuration)
		if err != nil {
			log.Fatal(err)
		}
		deps.SearchHandler = &handlers.SearchHandler{ES: esClient, Index: "items"}
	}

	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	}

	if err := prod.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}

	log.Println("shutdown complete")
}
