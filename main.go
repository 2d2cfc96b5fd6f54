package main

import (
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"options-sim/controllers"
	"options-sim/database"
	"options-sim/interfaces"
	"options-sim/services"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment")
	}

	dbPath := envOr("OPTIONS_SIM_DB", "data/options_sim.db")
	store, err := database.NewSessionStore(dbPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open session store")
	}
	defer store.Close()

	router := gin.Default()
	api := router.Group("/api/v1")

	// Historical replay runs off local CSV data.
	if dataPath := os.Getenv("OPTIONS_SIM_DATA"); dataPath != "" {
		provider, err := services.NewCsvDataProvider(dataPath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load market data")
		}

		cfg := services.DefaultSimulatorConfig()
		if cash := envFloat("OPTIONS_SIM_CASH"); cash > 0 {
			cfg.InitialCash = cash
		}
		if commission := envFloat("OPTIONS_SIM_COMMISSION"); commission > 0 {
			cfg.CommissionPerContract = commission
		}
		if model := os.Getenv("OPTIONS_SIM_FILL_MODEL"); model != "" {
			parsed, err := services.ParseFillModel(model)
			if err != nil {
				logger.WithError(err).Fatal("Invalid fill model")
			}
			cfg.FillModel = parsed
		}

		sim := services.NewSimulator(provider, cfg)
		simController := controllers.NewSimulationController(sim, provider, store)
		registerSimRoutes(api, simController)

		journal := services.NewTradeJournal(envOr("OPTIONS_SIM_JOURNAL", "data/journal"))
		journalController := controllers.NewJournalController(journal, sim, store)
		registerJournalRoutes(api, journalController)

		logger.WithField("data", dataPath).Info("Simulation engine ready")
	} else {
		logger.Warn("OPTIONS_SIM_DATA not set, simulation endpoints disabled")
	}

	// Live paper trading and scanning need a market data API key.
	if client := buildLiveClient(logger); client != nil {
		initialCash := envOr("OPTIONS_SIM_CASH", "")
		cash := 100000.0
		if parsed, err := strconv.ParseFloat(initialCash, 64); err == nil && parsed > 0 {
			cash = parsed
		}
		commission := 0.65
		if parsed := envFloat("OPTIONS_SIM_COMMISSION"); parsed > 0 {
			commission = parsed
		}

		engine := services.NewLiveEngine(client, cash, commission)
		liveController := controllers.NewLiveController(engine, store)
		registerLiveRoutes(api, liveController)

		scanner := services.NewScannerService(client)
		scannerController := controllers.NewScannerController(scanner)
		registerScanRoutes(api, scannerController)

		logger.Info("Live trading engine ready")
	} else {
		logger.Warn("No market data API key set, live endpoints disabled")
	}

	port := envOr("PORT", "8080")
	logger.WithField("port", port).Info("Starting server")
	if err := router.Run(":" + port); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}

func buildLiveClient(logger *logrus.Logger) interfaces.LiveDataClient {
	if key := os.Getenv("POLYGON_API_KEY"); key != "" {
		logger.Info("Using Polygon market data")
		return services.NewPolygonLiveClient(key)
	}
	apiKey := os.Getenv("ALPACA_API_KEY")
	secretKey := os.Getenv("ALPACA_SECRET_KEY")
	if apiKey != "" && secretKey != "" {
		logger.Info("Using Alpaca market data")
		return services.NewAlpacaLiveClient(apiKey, secretKey)
	}
	return nil
}

func registerSimRoutes(api *gin.RouterGroup, sc *controllers.SimulationController) {
	sim := api.Group("/sim")
	sim.POST("/start", sc.HandleStart)
	sim.POST("/step", sc.HandleStep)
	sim.POST("/orders", sc.HandleOrder)
	sim.GET("/status", sc.HandleStatus)
	sim.GET("/account", sc.HandleAccount)
	sim.GET("/positions", sc.HandlePositions)
	sim.GET("/history", sc.HandleHistory)
	sim.GET("/chain", sc.HandleChain)
	sim.GET("/dates", sc.HandleDates)
	sim.GET("/expiries", sc.HandleExpiries)
	sim.GET("/export", sc.HandleExport)
	sim.POST("/save", sc.HandleSave)
	sim.POST("/load", sc.HandleLoad)

	api.GET("/sessions", sc.HandleListSessions)
	api.DELETE("/sessions/:name", sc.HandleDeleteSession)
}

func registerJournalRoutes(api *gin.RouterGroup, jc *controllers.JournalController) {
	journal := api.Group("/journal")
	journal.GET("/current", jc.HandleCurrentReport)
	journal.GET("/reports", jc.HandleListReports)
	journal.GET("/reports/:name", jc.HandleGetReport)
	journal.POST("/reports/:name", jc.HandleWriteReport)
	journal.GET("/trades.csv", jc.HandleTradesCSV)
}

func registerLiveRoutes(api *gin.RouterGroup, lc *controllers.LiveController) {
	live := api.Group("/live")
	live.POST("/start", lc.HandleStart)
	live.POST("/orders", lc.HandleOrder)
	live.GET("/quote/:symbol", lc.HandleQuote)
	live.GET("/chain", lc.HandleChain)
	live.GET("/status", lc.HandleStatus)
	live.GET("/account", lc.HandleAccount)
	live.GET("/positions", lc.HandlePositions)
	live.GET("/history", lc.HandleHistory)
	live.POST("/save", lc.HandleSave)
	live.POST("/load", lc.HandleLoad)
}

func registerScanRoutes(api *gin.RouterGroup, sc *controllers.ScannerController) {
	scan := api.Group("/scan")
	scan.GET("/high-iv/:symbol", sc.HandleHighIV)
	scan.GET("/unusual-volume/:symbol", sc.HandleUnusualVolume)
	scan.GET("/near-money/:symbol", sc.HandleNearMoney)
	scan.GET("/high-theta/:symbol", sc.HandleHighTheta)
	scan.GET("/earnings/:symbol", sc.HandleEarnings)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return parsed
}
