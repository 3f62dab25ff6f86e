package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/ledger-api/internal/auth"
	"github.com/ksred/ledger-api/internal/broker"
	"github.com/ksred/ledger-api/internal/config"
	"github.com/ksred/ledger-api/internal/database"
	"github.com/ksred/ledger-api/internal/events"
	"github.com/ksred/ledger-api/internal/idempotency"
	"github.com/ksred/ledger-api/internal/ledger"
	"github.com/ksred/ledger-api/internal/orchestrator"
	"github.com/ksred/ledger-api/internal/portfolio"
	"github.com/ksred/ledger-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	minOrders     = 15
	maxOrders     = 150
	numWorkers    = 5
	numPortfolios = 5
	serverAddress = "http://localhost:8080"
)

var (
	symbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META"}
	sides   = []string{"BUY", "SELL"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the ledger API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"portfolio": {name: "Register Portfolio"},
			"place":     {name: "Place Order"},
			"fill":      {name: "Record Fill"},
			"cancel":    {name: "Cancel Order"},
			"available": {name: "Available Capital"},
			"trail":     {name: "Audit Trail"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// post sends an authenticated JSON POST and decodes the envelope data
// into out when it is non-nil
func (sc *simulationClient) post(route, path string, payload interface{}, idempotencyKey string, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[route].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequest("POST", sc.baseURL+path, body)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[route].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.stats[route].failures++
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[route].failures++
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Success bool        `json:"success"`
		Data    interface{} `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return nil
}

// registerPortfolio creates a portfolio with the given starting capital
func (sc *simulationClient) registerPortfolio(portfolioID string, totalCapital decimal.Decimal) error {
	payload := map[string]interface{}{
		"portfolio_id":  portfolioID,
		"total_capital": totalCapital,
		"currency":      "USD",
	}
	return sc.post("portfolio", "/api/v1/capital/portfolios", payload, "", nil)
}

// placeOrder submits a new order through the orchestrated workflow
// Returns the order ID and broker reference on success
func (sc *simulationClient) placeOrder(portfolioID, symbol, side string, quantity, limitPrice decimal.Decimal) (orderID, brokerRef string, err error) {
	payload := map[string]interface{}{
		"portfolio_id": portfolioID,
		"symbol":       symbol,
		"side":         side,
		"order_type":   "LIMIT",
		"quantity":     quantity,
		"limit_price":  limitPrice,
	}

	var result struct {
		OrderID   string `json:"order_id"`
		BrokerRef string `json:"broker_ref"`
	}
	if err := sc.post("place", "/api/v1/orders", payload, uuid.New().String(), &result); err != nil {
		return "", "", err
	}
	if result.OrderID == "" {
		return "", "", fmt.Errorf("no order ID in response")
	}

	return result.OrderID, result.BrokerRef, nil
}

// recordFill reports a broker execution for an order
func (sc *simulationClient) recordFill(orderID, portfolioID, brokerRef string, quantity, price decimal.Decimal) error {
	payload := map[string]interface{}{
		"portfolio_id": portfolioID,
		"quantity":     quantity,
		"price":        price,
		"broker_ref":   brokerRef,
	}
	return sc.post("fill", fmt.Sprintf("/api/v1/internal/execution/%s", orderID), payload, "", nil)
}

// cancelOrder cancels a live order and releases its reserved capital
func (sc *simulationClient) cancelOrder(orderID string) error {
	start := time.Now()
	defer func() {
		sc.stats["cancel"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"DELETE",
		fmt.Sprintf("%s/api/v1/orders/%s", sc.baseURL, orderID),
		nil,
	)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["cancel"].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.stats["cancel"].failures++
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Cancel order response")

	if resp.StatusCode != http.StatusOK {
		sc.stats["cancel"].failures++
		return fmt.Errorf("cancel order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// availableCapital fetches the committed-capital balance for a portfolio
func (sc *simulationClient) availableCapital(portfolioID string) (decimal.Decimal, error) {
	start := time.Now()
	defer func() {
		sc.stats["available"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/capital/%s/available", sc.baseURL, portfolioID),
		nil,
	)
	if err != nil {
		return decimal.Zero, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["available"].failures++
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.stats["available"].failures++
		return decimal.Zero, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		sc.stats["available"].failures++
		return decimal.Zero, fmt.Errorf("available capital failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			AvailableCapital decimal.Decimal `json:"available_capital"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return result.Data.AvailableCapital, nil
}

// auditTrailLength fetches the audit trail for an order and returns the
// number of recorded steps
func (sc *simulationClient) auditTrailLength(orderID string) (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["trail"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/orders/%s/audit-trail", sc.baseURL, orderID),
		nil,
	)
	if err != nil {
		return 0, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["trail"].failures++
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.stats["trail"].failures++
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		sc.stats["trail"].failures++
		return 0, fmt.Errorf("audit trail failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Lineage []json.RawMessage `json:"lineage"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return len(result.Data.Lineage), nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 110))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 110))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 110))
}

// placedOrder carries the identifiers a later lifecycle step needs
type placedOrder struct {
	orderID     string
	portfolioID string
	brokerRef   string
	quantity    decimal.Decimal
	limitPrice  decimal.Decimal
	symbol      string
	side        string
}

// main runs the order lifecycle simulation
// It starts a local API server and simulates multiple concurrent clients
// placing, filling and cancelling orders against shared portfolios
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Register portfolios with starting capital
	portfolioIDs := make([]string, 0, numPortfolios)
	startingCapital := decimal.NewFromInt(1_000_000)
	for i := 0; i < numPortfolios; i++ {
		portfolioID := fmt.Sprintf("PORT_SIM_%d", i)
		if err := simClient.registerPortfolio(portfolioID, startingCapital); err != nil {
			log.Fatal().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to register portfolio")
		}
		portfolioIDs = append(portfolioIDs, portfolioID)
	}
	log.Info().Int("portfolios", len(portfolioIDs)).Msg("Portfolios registered")

	// Generate random number of orders to process
	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	// Channel to collect placed orders
	ordersChan := make(chan placedOrder, targetOrders)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			placeOrdersHTTP(workerID, targetOrders/numWorkers, portfolioIDs, simClient, ordersChan)
		}(i)
	}

	// Wait for all orders to be placed
	wg.Wait()
	close(ordersChan)

	// Collect all placed orders
	var placed []placedOrder
	for order := range ordersChan {
		placed = append(placed, order)
	}

	log.Info().Int("orders_placed", len(placed)).Msg("All orders placed")

	// Collect statistics during processing
	stats := struct {
		TotalOrders      int
		FilledOrders     int
		CancelledOrders  int
		FailedFills      int
		FailedCancels    int
		TotalValue       decimal.Decimal
		StartTime        time.Time
		Symbols          map[string]int
		Sides            map[string]int
		AuditTrailSteps  int
	}{
		StartTime:  time.Now(),
		TotalValue: decimal.Zero,
		Symbols:    make(map[string]int),
		Sides:      make(map[string]int),
	}

	stats.TotalOrders = len(placed)

	// Fill most orders, cancel roughly one in five
	for _, order := range placed {
		stats.Symbols[order.symbol]++
		stats.Sides[order.side]++

		if rand.Intn(5) == 0 {
			if err := simClient.cancelOrder(order.orderID); err != nil {
				log.Error().Err(err).Str("order_id", order.orderID).Msg("Failed to cancel order")
				stats.FailedCancels++
				continue
			}
			stats.CancelledOrders++
			log.Info().Str("order_id", order.orderID).Msg("Order cancelled")
			continue
		}

		// Fill at or slightly below the limit price
		fillPrice := order.limitPrice.Mul(decimal.NewFromFloat(0.99))
		if err := simClient.recordFill(order.orderID, order.portfolioID, order.brokerRef, order.quantity, fillPrice); err != nil {
			log.Error().Err(err).Str("order_id", order.orderID).Msg("Failed to record fill")
			stats.FailedFills++
			continue
		}
		stats.FilledOrders++
		stats.TotalValue = stats.TotalValue.Add(order.quantity.Mul(fillPrice))

		steps, err := simClient.auditTrailLength(order.orderID)
		if err == nil {
			stats.AuditTrailSteps += steps
		}

		log.Info().
			Str("order_id", order.orderID).
			Str("broker_ref", order.brokerRef).
			Str("price", fillPrice.String()).
			Str("quantity", order.quantity.String()).
			Msg("Order filled")
	}

	// Report closing balances
	for _, portfolioID := range portfolioIDs {
		available, err := simClient.availableCapital(portfolioID)
		if err != nil {
			log.Error().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to fetch available capital")
			continue
		}
		log.Info().
			Str("portfolio_id", portfolioID).
			Str("available", available.String()).
			Msg("Closing balance")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("ORDER LIFECYCLE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Order Statistics
----------------
Total Orders:     %d
Filled:           %d
Cancelled:        %d
Failed Fills:     %d
Failed Cancels:   %d
Audit Steps:      %d
Total Value:      $%s
Duration:         %v

Symbol Distribution
-------------------
`, stats.TotalOrders, stats.FilledOrders, stats.CancelledOrders,
		stats.FailedFills, stats.FailedCancels, stats.AuditTrailSteps,
		stats.TotalValue.StringFixed(2), duration.Round(time.Millisecond))

	// Print symbol distribution with simple ASCII bar chart
	maxSymbolCount := 0
	for _, count := range stats.Symbols {
		if count > maxSymbolCount {
			maxSymbolCount = count
		}
	}

	for symbol, count := range stats.Symbols {
		barLength := int(float64(count) / float64(maxSymbolCount) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-6s: %s (%d)\n", symbol, bar, count)
	}

	fmt.Println("\nSide Distribution")
	fmt.Println("-----------------")
	for side, count := range stats.Sides {
		barLength := int(float64(count) / float64(stats.TotalOrders) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-4s: %s (%d)\n", side, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	// Success rate calculation
	successRate := float64(stats.FilledOrders+stats.CancelledOrders) / float64(stats.TotalOrders) * 100
	log.Info().
		Float64("success_rate", successRate).
		Int("total_orders", stats.TotalOrders).
		Int("filled_orders", stats.FilledOrders).
		Int("cancelled_orders", stats.CancelledOrders).
		Str("total_value", stats.TotalValue.StringFixed(2)).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// placeOrdersHTTP generates and submits random orders to the API
// Runs as a worker goroutine, sending placed orders to ordersChan
func placeOrdersHTTP(workerID, numOrders int, portfolioIDs []string, simClient *simulationClient, ordersChan chan<- placedOrder) {
	for i := 0; i < numOrders; i++ {
		portfolioID := portfolioIDs[rand.Intn(len(portfolioIDs))]
		symbol := symbols[rand.Intn(len(symbols))]
		side := sides[rand.Intn(len(sides))]
		quantity := decimal.NewFromInt(int64(rand.Intn(100) + 1))
		limitPrice := decimal.NewFromInt(int64(rand.Intn(900) + 100))

		orderID, brokerRef, err := simClient.placeOrder(portfolioID, symbol, side, quantity, limitPrice)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("symbol", symbol).
				Msg("Failed to place order")
			continue
		}

		ordersChan <- placedOrder{
			orderID:     orderID,
			portfolioID: portfolioID,
			brokerRef:   brokerRef,
			quantity:    quantity,
			limitPrice:  limitPrice,
			symbol:      symbol,
			side:        side,
		}
		log.Info().
			Int("worker_id", workerID).
			Str("order_id", orderID).
			Str("symbol", symbol).
			Str("side", side).
			Str("quantity", quantity.String()).
			Str("limit_price", limitPrice.String()).
			Msg("Order placed")

		// Random sleep between orders
		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}
}

// startServer initializes and starts the ledger API server
// Sets up all required services, handlers and routes
func startServer() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(cfg.Auth.JWTSecret)
	ledgerService, err := ledger.NewService(db, cfg.Ledger.CacheTTL)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger service: %w", err)
	}
	eventService := events.NewService(db, nil, cfg.Ledger.RetentionYears)

	orchestratorService := orchestrator.NewService(
		ledgerService,
		eventService,
		idempotency.NewMemoryGuard(),
		broker.NewBreakerClient(broker.NewSimulator(), cfg.Broker.CallTimeout),
		portfolio.AllowAll{},
		cfg.Idempotency.TTL,
	)

	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)
	eventHandlers := events.NewGinHandlers(eventService)
	orchestratorHandlers := orchestrator.NewGinHandlers(orchestratorService)

	// Setup routes
	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, ledgerHandlers, eventHandlers, orchestratorHandlers)

	// Start the server
	return router.Run(":" + cfg.Server.Port)
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality; order placement keeps JWT auth since
// the handler resolves the client from token claims
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	eventHandlers *events.GinHandlers,
	orchestratorHandlers *orchestrator.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("", orchestratorHandlers.PlaceOrderHandler())
			orders.DELETE("/:order_id", orchestratorHandlers.CancelOrderHandler())
			orders.GET("/:order_id/events", eventHandlers.GetOrderEventsHandler())
			orders.GET("/:order_id/audit-trail", eventHandlers.GetAuditTrailHandler())
		}

		// Capital routes
		capital := v1.Group("/capital")
		{
			capital.POST("/portfolios", ledgerHandlers.RegisterPortfolioHandler())
			capital.GET("/:portfolio_id/available", ledgerHandlers.AvailableHandler())
			capital.GET("/:portfolio_id/summary", ledgerHandlers.SummaryHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		{
			internal.POST("/execution/:order_id", orchestratorHandlers.RecordExecutionHandler())
		}
	}
}
