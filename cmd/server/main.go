package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/hkanaan/sarraf/internal/api"
	"github.com/hkanaan/sarraf/internal/auth"
	"github.com/hkanaan/sarraf/internal/config"
	"github.com/hkanaan/sarraf/internal/db"
	"github.com/hkanaan/sarraf/internal/exchange"
	"github.com/hkanaan/sarraf/internal/logger"
	"github.com/hkanaan/sarraf/internal/models"
	"github.com/hkanaan/sarraf/internal/rates"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type broadcaster struct {
	db  *db.DB
	log zerolog.Logger

	clientsMu sync.RWMutex
	clients   map[*wsClient]bool
}

func newBroadcaster(database *db.DB, log zerolog.Logger) *broadcaster {
	return &broadcaster{
		db:      database,
		log:     log,
		clients: make(map[*wsClient]bool),
	}
}

// broadcast sends the current fillable offer book to every connected client.
func (b *broadcaster) broadcast(ctx context.Context) {
	offers, err := b.db.GetOpenOffers(ctx)
	if err != nil {
		b.log.Error().Err(err).Msg("failed to load open offers")
		return
	}
	if offers == nil {
		offers = []models.Offer{}
	}

	data, err := json.Marshal(map[string]interface{}{"offers": offers})
	if err != nil {
		b.log.Error().Err(err).Msg("failed to marshal offer book")
		return
	}

	b.clientsMu.RLock()
	stale := make([]*wsClient, 0)
	for client := range b.clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			stale = append(stale, client)
		}
	}
	b.clientsMu.RUnlock()

	if len(stale) > 0 {
		b.clientsMu.Lock()
		for _, client := range stale {
			delete(b.clients, client)
		}
		b.clientsMu.Unlock()
	}
}

func (b *broadcaster) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &wsClient{conn: conn}
	b.clientsMu.Lock()
	b.clients[client] = true
	b.clientsMu.Unlock()

	// Send initial offer book
	b.broadcast(r.Context())

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			b.clientsMu.Lock()
			delete(b.clients, client)
			b.clientsMu.Unlock()
			break
		}
	}
}

// Main entry point: sets up database, settlement engine, and HTTP server
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New("sarraf", "info", "console")
		fallbackLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New("sarraf", cfg.App.LogLevel, cfg.App.LogFormat)

	database, err := db.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	authService := auth.NewService(database, cfg.JWT.Secret, cfg.JWT.TTL)
	book := exchange.NewBook(database, log)
	executor := exchange.NewExecutor(database, log)
	rateService := rates.NewService(database)

	handler := api.NewHandler(database, authService, book, executor, rateService, log)
	router := handler.Router()

	bc := newBroadcaster(database, log)
	router.Get("/ws", bc.handleWebSocket)

	// Periodic offer book broadcast
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			bc.broadcast(ctx)
		}
	}()

	log.Info().Str("addr", cfg.App.Addr).Msg("starting server")
	if err := http.ListenAndServe(cfg.App.Addr, router); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
