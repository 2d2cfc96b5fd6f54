package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"options-sim/database"
	"options-sim/services"
)

// JournalController serves session reports and trade ledger exports.
type JournalController struct {
	journal *services.TradeJournal
	sim     *services.Simulator
	store   *database.SessionStore
}

// NewJournalController creates a new journal controller.
func NewJournalController(journal *services.TradeJournal, sim *services.Simulator, store *database.SessionStore) *JournalController {
	return &JournalController{
		journal: journal,
		sim:     sim,
		store:   store,
	}
}

// HandleCurrentReport builds a report for the running session without
// persisting it.
func (jc *JournalController) HandleCurrentReport(c *gin.Context) {
	if jc.sim == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Simulation engine not configured"})
		return
	}
	state := jc.sim.ToState()
	if !state.Started {
		c.JSON(http.StatusConflict, gin.H{"error": "Session not started"})
		return
	}

	c.JSON(http.StatusOK, jc.journal.BuildReport("current", state))
}

// HandleWriteReport builds a report for a saved session and writes it
// to the journal directory.
func (jc *JournalController) HandleWriteReport(c *gin.Context) {
	name := c.Param("name")

	state, err := jc.store.LoadSession(name)
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	report, err := jc.journal.WriteReport(name, state)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// HandleGetReport returns a previously written report by session name.
func (jc *JournalController) HandleGetReport(c *gin.Context) {
	report, err := jc.journal.ReadReport(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// HandleListReports returns the session names with a written report.
func (jc *JournalController) HandleListReports(c *gin.Context) {
	names, err := jc.journal.ListReports()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": names,
		"count":   len(names),
	})
}

// HandleTradesCSV renders the running session's trade ledger as CSV.
func (jc *JournalController) HandleTradesCSV(c *gin.Context) {
	if jc.sim == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Simulation engine not configured"})
		return
	}

	trades, err := jc.sim.GetHistory()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	out, err := jc.journal.TradesCSV(trades)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(out))
}
