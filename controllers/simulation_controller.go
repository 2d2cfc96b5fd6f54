package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"options-sim/database"
	"options-sim/interfaces"
	"options-sim/services"
)

// SimulationController handles historical replay simulation endpoints
type SimulationController struct {
	sim    *services.Simulator
	data   interfaces.DataProvider
	store  *database.SessionStore
	logger *logrus.Logger
}

// NewSimulationController creates a new simulation controller
func NewSimulationController(sim *services.Simulator, data interfaces.DataProvider, store *database.SessionStore) *SimulationController {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &SimulationController{
		sim:    sim,
		data:   data,
		store:  store,
		logger: logger,
	}
}

// StartRequest represents a session start request
type StartRequest struct {
	Symbol     string  `json:"symbol" binding:"required"`
	Start      string  `json:"start" binding:"required"` // YYYY-MM-DD or YYYY-MM-DD HH:MM
	Cash       float64 `json:"cash,omitempty"`
	FillModel  string  `json:"fill_model,omitempty"`
	Commission float64 `json:"commission,omitempty"`
}

// HandleStart begins a new replay session
func (sc *SimulationController) HandleStart(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	start, err := parseSessionTime(req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fillModel := services.FillModel("")
	if req.FillModel != "" {
		parsed, err := services.ParseFillModel(req.FillModel)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		fillModel = parsed
	}
	sc.sim.Configure(req.Cash, fillModel, req.Commission)

	sc.logger.WithFields(logrus.Fields{
		"symbol": req.Symbol,
		"start":  req.Start,
	}).Info("Starting simulation session")

	status, err := sc.sim.Start(req.Symbol, start)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}

// StepRequest represents a clock advance request
type StepRequest struct {
	Minutes int `json:"minutes"`
}

// HandleStep advances the simulation clock
func (sc *SimulationController) HandleStep(c *gin.Context) {
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Minutes <= 0 {
		req.Minutes = 60
	}

	status, err := sc.sim.Step(req.Minutes)
	if err != nil {
		sc.respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// OrderRequest represents a buy or sell order
type OrderRequest struct {
	Contract   string   `json:"contract" binding:"required"`
	Side       string   `json:"side" binding:"required"`
	Quantity   int      `json:"quantity" binding:"required"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
}

// HandleOrder submits an order against the current snapshot
func (sc *SimulationController) HandleOrder(c *gin.Context) {
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sc.logger.WithFields(logrus.Fields{
		"contract": req.Contract,
		"side":     req.Side,
		"quantity": req.Quantity,
	}).Info("Processing order")

	result, err := sc.sim.SubmitOrder(req.Contract, req.Side, req.Quantity, req.LimitPrice)
	if err != nil {
		sc.respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleStatus returns full session status
func (sc *SimulationController) HandleStatus(c *gin.Context) {
	status, err := sc.sim.GetStatus()
	if err != nil {
		sc.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleAccount returns the account summary
func (sc *SimulationController) HandleAccount(c *gin.Context) {
	account, err := sc.sim.GetAccount()
	if err != nil {
		sc.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// HandlePositions returns all open positions
func (sc *SimulationController) HandlePositions(c *gin.Context) {
	positions, err := sc.sim.GetPositions()
	if err != nil {
		sc.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"positions": positions,
		"count":     len(positions),
	})
}

// HandleHistory returns the trade audit trail
func (sc *SimulationController) HandleHistory(c *gin.Context) {
	trades, err := sc.sim.GetHistory()
	if err != nil {
		sc.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

// HandleChain returns the option chain at the current clock
func (sc *SimulationController) HandleChain(c *gin.Context) {
	symbol := c.Query("symbol")
	expiry := c.Query("expiry")

	chain, err := sc.sim.GetChain(symbol, expiry)
	if err != nil {
		sc.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

// HandleDates lists trading dates available in the data set
func (sc *SimulationController) HandleDates(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	dates, err := sc.data.AvailableDates(symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"dates":  dates,
		"count":  len(dates),
	})
}

// HandleExpiries lists expiration dates quoted at the current clock
func (sc *SimulationController) HandleExpiries(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	at := time.Now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := parseSessionTime(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		at = parsed
	}

	expiries, err := sc.data.AvailableExpiries(symbol, at)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"expiries": expiries,
		"count":    len(expiries),
	})
}

// HandleExport returns the full serialized session state
func (sc *SimulationController) HandleExport(c *gin.Context) {
	c.JSON(http.StatusOK, sc.sim.ToState())
}

// SaveRequest names a session save slot
type SaveRequest struct {
	Name string `json:"name" binding:"required"`
}

// HandleSave persists the current session
func (sc *SimulationController) HandleSave(c *gin.Context) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := sc.store.SaveSession(req.Name, sc.sim.ToState()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session saved", "name": req.Name})
}

// HandleLoad restores a saved session
func (sc *SimulationController) HandleLoad(c *gin.Context) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	state, err := sc.store.LoadSession(req.Name)
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := sc.sim.LoadState(state); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session loaded", "name": req.Name})
}

// HandleListSessions lists all saved sessions
func (sc *SimulationController) HandleListSessions(c *gin.Context) {
	sessions, err := sc.store.ListSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// HandleDeleteSession removes a saved session
func (sc *SimulationController) HandleDeleteSession(c *gin.Context) {
	name := c.Param("name")
	if err := sc.store.DeleteSession(name); err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted", "name": name})
}

func (sc *SimulationController) respondEngineError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrNotStarted) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
}

func parseSessionTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.New("invalid start time, expected YYYY-MM-DD or YYYY-MM-DD HH:MM")
}
