package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"options-sim/services"
)

// ScannerController handles option chain scanning endpoints
type ScannerController struct {
	scanner *services.ScannerService
	logger  *logrus.Logger
}

// NewScannerController creates a new scanner controller
func NewScannerController(scanner *services.ScannerService) *ScannerController {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &ScannerController{
		scanner: scanner,
		logger:  logger,
	}
}

// HandleHighIV returns contracts with IV above a percentile threshold
func (sc *ScannerController) HandleHighIV(c *gin.Context) {
	symbol := c.Param("symbol")
	expiry := c.Query("expiry")
	percentile := queryFloat(c, "percentile", 50.0)

	hits, err := sc.scanner.ScanHighIV(symbol, percentile, expiry)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	sc.respond(c, "high_iv", symbol, hits)
}

// HandleUnusualVolume returns contracts where volume far exceeds OI
func (sc *ScannerController) HandleUnusualVolume(c *gin.Context) {
	symbol := c.Param("symbol")
	expiry := c.Query("expiry")
	ratio := queryFloat(c, "ratio", 2.0)

	hits, err := sc.scanner.ScanUnusualVolume(symbol, ratio, expiry)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	sc.respond(c, "unusual_volume", symbol, hits)
}

// HandleNearMoney returns strikes within a band around spot
func (sc *ScannerController) HandleNearMoney(c *gin.Context) {
	symbol := c.Param("symbol")
	expiry := c.Query("expiry")
	rangePct := queryFloat(c, "range", 5.0)

	hits, err := sc.scanner.ScanNearMoney(symbol, rangePct, expiry)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	sc.respond(c, "near_money", symbol, hits)
}

// HandleHighTheta returns contracts with rapid time decay
func (sc *ScannerController) HandleHighTheta(c *gin.Context) {
	symbol := c.Param("symbol")
	expiry := c.Query("expiry")
	minTheta := queryFloat(c, "min_theta", 0)

	hits, err := sc.scanner.ScanHighTheta(symbol, minTheta, expiry)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	sc.respond(c, "high_theta", symbol, hits)
}

// HandleEarnings returns near-term elevated-IV contracts
func (sc *ScannerController) HandleEarnings(c *gin.Context) {
	symbol := c.Param("symbol")
	maxDTE := 30
	if raw := c.Query("max_dte"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			maxDTE = parsed
		}
	}

	hits, err := sc.scanner.ScanEarningsPlays(symbol, maxDTE)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	sc.respond(c, "earnings", symbol, hits)
}

func (sc *ScannerController) respond(c *gin.Context, scanType, symbol string, hits []*services.ScanHit) {
	c.JSON(http.StatusOK, gin.H{
		"scan":   scanType,
		"symbol": symbol,
		"hits":   hits,
		"count":  len(hits),
	})
}

func queryFloat(c *gin.Context, key string, fallback float64) float64 {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
