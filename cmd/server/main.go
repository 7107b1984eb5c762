package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/lattice-mm/internal/engine"
	"github.com/atmx/lattice-mm/internal/journal"
	"github.com/atmx/lattice-mm/internal/ledger"
	"github.com/atmx/lattice-mm/internal/metrics"
	"github.com/atmx/lattice-mm/internal/model"
	"github.com/atmx/lattice-mm/internal/pathgen"
	"github.com/atmx/lattice-mm/internal/risk"
	"github.com/atmx/lattice-mm/internal/stream"
)

// server wires the pure engine core to the ambient stack: HTTP surface,
// stepped simulation clock, audit journal, and event stream. None of
// these are imported by internal/engine itself.
type server struct {
	mu         sync.RWMutex
	eng        *engine.Engine
	underlying map[int]*model.Underlying
	options    map[int]*model.Option

	gen     *pathgen.Generator
	journal *journal.Journal
	hub     *stream.Hub
}

func seedUniverse() ([]*model.Underlying, []*model.Option) {
	w, err := model.NewUnderlying(1, "WIDGETCO", 150, 2.0, 2.0, 0.5, 0.5, 0.1)
	if err != nil {
		panic(err)
	}
	g, err := model.NewUnderlying(2, "GADGETCO", 80, 1.0, 1.0, 0.5, 0.5, 0.05)
	if err != nil {
		panic(err)
	}
	underlyings := []*model.Underlying{w, g}

	opts := []*model.Option{}
	for _, spec := range []struct {
		id, n, k, uid int
		typ           model.OptionType
	}{
		{1, 10, 150, 1, model.Call},
		{2, 10, 150, 1, model.Put},
		{3, 10, 160, 1, model.Call},
		{4, 8, 80, 2, model.Call},
		{5, 8, 75, 2, model.Put},
	} {
		name := "WIDGETCO"
		if spec.uid == 2 {
			name = "GADGETCO"
		}
		o, err := model.NewOption(spec.id, spec.typ, spec.n, spec.k, spec.uid, name)
		if err != nil {
			panic(err)
		}
		opts = append(opts, o)
	}
	return underlyings, opts
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	var cleanup []func()

	var pool *pgxpool.Pool
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		p, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		pool = p
		cleanup = append(cleanup, pool.Close)
		slog.Info("audit journal connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, audit journal is a no-op")
	}
	j := journal.New(pool)

	var rdb *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("event stream fanning out through Redis")
	} else {
		slog.Warn("REDIS_URL not set, event stream is single-replica")
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	seed := int64(1)
	if s := os.Getenv("SEED"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			seed = v
		}
	}

	underlyings, options := seedUniverse()
	led := ledger.New()
	tradeCallback := func(underlyingID int, signedQuantity float64) error {
		metrics.HedgesPlacedTotal.Inc()
		if err := led.Trade(underlyingID, signedQuantity); err != nil {
			return err
		}
		if err := j.RecordTrade(context.Background(), underlyingID, signedQuantity); err != nil {
			slog.Warn("journal write failed", "err", err)
		}
		return nil
	}

	srv := &server{
		eng:        engine.New(underlyings, options, tradeCallback),
		underlying: indexUnderlyings(underlyings),
		options:    indexOptions(options),
		gen:        pathgen.New(seed),
		journal:    j,
		hub:        stream.NewHub(rdb),
	}

	ctx, stopStream := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)

	stepInterval := 5 * time.Second
	if s := os.Getenv("STEP_INTERVAL_MS"); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			stepInterval = time.Duration(v) * time.Millisecond
		}
	}
	stopStepper := make(chan struct{})
	go srv.runStepper(stepInterval, stopStepper)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"lattice-mm"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", srv.hub.HandleWS)
		r.Get("/options/{optionID}/quote", srv.handleQuote)
		r.Post("/options/{optionID}/bid", srv.handleBidHit)
		r.Post("/options/{optionID}/offer", srv.handleOfferHit)
		r.Get("/portfolio", srv.handlePortfolio)
		r.Get("/position", srv.handlePosition)
		r.Post("/underlyings/{underlyingID}/buy", srv.handleBuyUnderlying)
		r.Post("/underlyings/{underlyingID}/sell", srv.handleSellUnderlying)
	})

	httpSrv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("lattice-mm listening", "port", port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	close(stopStepper)
	stopStream()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down lattice-mm...")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("lattice-mm stopped")
}

func indexUnderlyings(us []*model.Underlying) map[int]*model.Underlying {
	byID := make(map[int]*model.Underlying, len(us))
	for _, u := range us {
		byID[u.ID] = u
	}
	return byID
}

func indexOptions(opts []*model.Option) map[int]*model.Option {
	byID := make(map[int]*model.Option, len(opts))
	for _, o := range opts {
		byID[o.ID] = o
	}
	return byID
}

// runStepper drives the simulation clock: every interval it advances the
// external underlying/option state and feeds it to the engine's
// on_step_advance entry point, exactly the role original_source/main.cpp
// plays for the C++ version.
func (s *server) runStepper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			underlyings := make([]*model.Underlying, 0, len(s.underlying))
			for _, u := range s.underlying {
				underlyings = append(underlyings, u)
			}
			options := make([]*model.Option, 0, len(s.options))
			for _, o := range s.options {
				options = append(options, o)
			}

			nextUnderlyings := s.gen.AdvanceUnderlyings(underlyings)
			nextOptions := s.gen.AdvanceOptions(options)

			s.eng.OnStepAdvance(nextUnderlyings, nextOptions)
			s.underlying = indexUnderlyings(nextUnderlyings)
			s.options = indexOptions(nextOptions)
			s.mu.Unlock()

			metrics.GammaScalpTotal.Add(float64(len(nextUnderlyings)))
			metrics.CacheSize.Set(float64(s.eng.CacheSize()))
			metrics.SafeModeEngaged.Set(boolToFloat(s.eng.SafeMode()))

			s.hub.Publish(context.Background(), stream.Event{Type: "step_advance"})
		}
	}
}

func (s *server) optionByID(id int) (*model.Option, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.options[id]
	return o, ok
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "optionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid option id")
		return
	}
	opt, ok := s.optionByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "option not found")
		return
	}

	bid, ask := s.eng.MakeMarket(opt)
	if bid == risk.SentinelBid && ask == risk.SentinelAsk {
		cause := "missing_underlying"
		if s.eng.SafeMode() {
			cause = "safe_mode"
		}
		metrics.SentinelQuotesTotal.WithLabelValues(cause).Inc()
	} else {
		metrics.QuotesIssuedTotal.Inc()
	}

	s.hub.Publish(r.Context(), stream.Event{Type: "quote", OptionID: id, Bid: bid, Ask: ask})
	writeJSON(w, http.StatusOK, map[string]float64{"bid": bid, "ask": ask})
}

type priceRequest struct {
	Price float64 `json:"price"`
}

func (s *server) handleBidHit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "optionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid option id")
		return
	}
	opt, ok := s.optionByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "option not found")
		return
	}
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.eng.OnBidHit(opt, req.Price)
	metrics.TradesBookedTotal.WithLabelValues("bid").Inc()
	slog.Info("bid hit", "option_id", id, "price", req.Price)
	s.hub.Publish(r.Context(), stream.Event{Type: "trade", OptionID: id, Quantity: 1})

	writeJSON(w, http.StatusOK, map[string]string{"status": "booked"})
}

func (s *server) handleOfferHit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "optionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid option id")
		return
	}
	opt, ok := s.optionByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "option not found")
		return
	}
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.eng.OnOfferHit(opt, req.Price)
	metrics.TradesBookedTotal.WithLabelValues("offer").Inc()
	slog.Info("offer hit", "option_id", id, "price", req.Price)
	s.hub.Publish(r.Context(), stream.Event{Type: "trade", OptionID: id, Quantity: -1})

	writeJSON(w, http.StatusOK, map[string]string{"status": "booked"})
}

func (s *server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	value := s.eng.PortfolioValue()
	safeMode := s.eng.SafeMode()
	metrics.SafeModeEngaged.Set(boolToFloat(safeMode))
	writeJSON(w, http.StatusOK, map[string]any{"value": value, "safe_mode": safeMode})
}

func (s *server) handlePosition(w http.ResponseWriter, r *http.Request) {
	options, underlyings := s.eng.PositionSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{"options": options, "underlyings": underlyings})
}

type quantityRequest struct {
	Quantity float64 `json:"quantity"`
}

func (s *server) handleBuyUnderlying(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "underlyingID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid underlying id")
		return
	}
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.eng.BuyUnderlying(id, req.Quantity); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "booked"})
}

func (s *server) handleSellUnderlying(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "underlyingID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid underlying id")
		return
	}
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.eng.SellUnderlying(id, req.Quantity); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "booked"})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
