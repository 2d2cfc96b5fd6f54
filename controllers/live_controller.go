package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"options-sim/database"
	"options-sim/services"
)

// LiveController handles live paper-trading endpoints
type LiveController struct {
	engine *services.LiveEngine
	store  *database.SessionStore
	logger *logrus.Logger
}

// NewLiveController creates a new live trading controller
func NewLiveController(engine *services.LiveEngine, store *database.SessionStore) *LiveController {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &LiveController{
		engine: engine,
		store:  store,
		logger: logger,
	}
}

// HandleStart begins a fresh live paper session
func (lc *LiveController) HandleStart(c *gin.Context) {
	status, err := lc.engine.Start()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleQuote returns a live stock quote
func (lc *LiveController) HandleQuote(c *gin.Context) {
	symbol := c.Param("symbol")

	quote, err := lc.engine.GetStockQuote(symbol)
	if err != nil {
		lc.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// HandleChain returns a live option chain with Greeks
func (lc *LiveController) HandleChain(c *gin.Context) {
	symbol := c.Query("symbol")
	expiry := c.Query("expiry")
	strikes := 0
	if raw := c.Query("strikes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid strikes parameter"})
			return
		}
		strikes = parsed
	}

	chain, err := lc.engine.GetChain(symbol, expiry, strikes)
	if err != nil {
		lc.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

// HandleOrder submits an order at live quotes
func (lc *LiveController) HandleOrder(c *gin.Context) {
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	lc.logger.WithFields(logrus.Fields{
		"contract": req.Contract,
		"side":     req.Side,
		"quantity": req.Quantity,
	}).Info("Processing live order")

	result, err := lc.engine.SubmitOrder(req.Contract, req.Side, req.Quantity, req.LimitPrice)
	if err != nil {
		lc.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleStatus returns live session status with fresh marks
func (lc *LiveController) HandleStatus(c *gin.Context) {
	status, err := lc.engine.GetStatus()
	if err != nil {
		lc.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleAccount returns the live account summary
func (lc *LiveController) HandleAccount(c *gin.Context) {
	account, err := lc.engine.GetAccount()
	if err != nil {
		lc.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// HandlePositions returns live positions marked to market
func (lc *LiveController) HandlePositions(c *gin.Context) {
	positions, err := lc.engine.GetPositions()
	if err != nil {
		lc.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"positions": positions,
		"count":     len(positions),
	})
}

// HandleHistory returns the live trade audit trail
func (lc *LiveController) HandleHistory(c *gin.Context) {
	trades, err := lc.engine.GetHistory()
	if err != nil {
		lc.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

// HandleSave persists the live session
func (lc *LiveController) HandleSave(c *gin.Context) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := lc.store.SaveLiveSession(req.Name, lc.engine.ToState()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Live session saved", "name": req.Name})
}

// HandleLoad restores a saved live session
func (lc *LiveController) HandleLoad(c *gin.Context) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	state, err := lc.store.LoadLiveSession(req.Name)
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	lc.engine.LoadState(state)
	c.JSON(http.StatusOK, gin.H{"message": "Live session loaded", "name": req.Name})
}

func (lc *LiveController) respondEngineError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrLiveNotStarted) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
