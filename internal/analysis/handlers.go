package analysis

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flexycode/altflex/internal/verify"
)

const maxBatchSize = 100

// Handler provides HTTP handlers for the analysis API.
type Handler struct {
	service *Service
}

// NewHandler creates an analysis handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the analysis routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analyze", h.Analyze)
	r.POST("/analyze/batch", h.AnalyzeBatch)
	r.GET("/analyses", h.List)
	r.GET("/analyses/:id", h.Get)
	r.GET("/rules", h.Rules)
	r.POST("/detect/rules", h.DetectRules)
	r.POST("/detect/anomaly", h.DetectAnomaly)
	r.GET("/model/info", h.ModelInfo)
}

type transactionRequest struct {
	TxHash       string  `json:"txHash" binding:"required"`
	From         string  `json:"from" binding:"required"`
	To           string  `json:"to"`
	ValueWei     string  `json:"valueWei"`
	ValueEth     float64 `json:"valueEth"`
	GasUsed      uint64  `json:"gasUsed"`
	GasPriceGwei float64 `json:"gasPriceGwei"`
	BlockNumber  uint64  `json:"blockNumber"`
	Timestamp    int64   `json:"timestamp"`
	Input        string  `json:"input"`
	IsError      bool    `json:"isError"`
}

type historyEntry struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp int64  `json:"timestamp"`
}

type analyzeRequest struct {
	transactionRequest
	History []historyEntry `json:"history"`
}

func (r *transactionRequest) toRecord() (*TransactionRecord, error) {
	value := new(big.Int)
	switch {
	case r.ValueWei != "":
		if _, ok := value.SetString(r.ValueWei, 10); !ok {
			return nil, errors.New("valueWei must be a decimal integer")
		}
	case r.ValueEth > 0:
		wei, _ := new(big.Float).Mul(
			big.NewFloat(r.ValueEth), big.NewFloat(1e18),
		).Int(nil)
		value = wei
	}

	ts := time.Now().UTC()
	if r.Timestamp > 0 {
		ts = time.Unix(r.Timestamp, 0).UTC()
	}

	return &TransactionRecord{
		Hash:         r.TxHash,
		From:         r.From,
		To:           r.To,
		ValueWei:     value,
		GasUsed:      r.GasUsed,
		GasPriceGwei: r.GasPriceGwei,
		BlockNumber:  r.BlockNumber,
		Timestamp:    ts,
		Input:        r.Input,
		IsError:      r.IsError,
	}, nil
}

func toHistory(entries []historyEntry) []verify.HistoryTx {
	if len(entries) == 0 {
		return nil
	}
	history := make([]verify.HistoryTx, len(entries))
	for i, e := range entries {
		history[i] = verify.HistoryTx{
			From:      e.From,
			To:        e.To,
			Timestamp: time.Unix(e.Timestamp, 0).UTC(),
		}
	}
	return history
}

// Analyze handles POST /api/analyze
func (h *Handler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	tx, err := req.toRecord()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	assessment, err := h.service.AnalyzeTransaction(c.Request.Context(), tx, toHistory(req.History))
	if err != nil {
		if errors.Is(err, ErrInvalidTransaction) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "validation_failed",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Analysis failed",
		})
		return
	}

	c.JSON(http.StatusOK, assessment)
}

type batchRequest struct {
	Transactions []transactionRequest `json:"transactions" binding:"required"`
}

// AnalyzeBatch handles POST /api/analyze/batch
func (h *Handler) AnalyzeBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if len(req.Transactions) == 0 || len(req.Transactions) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "batch must contain between 1 and 100 transactions",
		})
		return
	}

	txs := make([]*TransactionRecord, 0, len(req.Transactions))
	for _, r := range req.Transactions {
		tx, err := r.toRecord()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		txs = append(txs, tx)
	}

	results, summary, err := h.service.AnalyzeBatch(c.Request.Context(), txs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Batch analysis failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary": summary,
		"results": results,
	})
}

// List handles GET /api/analyses
func (h *Handler) List(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50)
	offset := parseIntQuery(c, "offset", 0)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	assessments, err := h.service.Store().List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assessments",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":       len(assessments),
		"assessments": assessments,
	})
}

// Get handles GET /api/analyses/:id
func (h *Handler) Get(c *gin.Context) {
	assessment, err := h.service.Store().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Assessment not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load assessment",
		})
		return
	}

	c.JSON(http.StatusOK, assessment)
}

// Rules handles GET /api/rules
func (h *Handler) Rules(c *gin.Context) {
	rules := h.service.Rules()
	c.JSON(http.StatusOK, gin.H{
		"total": len(rules),
		"rules": rules,
	})
}

// DetectRules handles POST /api/detect/rules, rule-only detection with
// no verdict recorded.
func (h *Handler) DetectRules(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	tx, err := req.toRecord()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	results, err := h.service.EvaluateRules(c.Request.Context(), tx)
	if err != nil {
		if errors.Is(err, ErrInvalidTransaction) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "validation_failed",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Rule evaluation failed",
		})
		return
	}

	triggered := 0
	for _, r := range results {
		if r.Triggered {
			triggered++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction":  tx.Hash,
		"rulesChecked": len(results),
		"triggered":    triggered,
		"results":      results,
	})
}

// DetectAnomaly handles POST /api/detect/anomaly, scorer-only detection
// with no verdict recorded.
func (h *Handler) DetectAnomaly(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	tx, err := req.toRecord()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	score, available, err := h.service.ProbeAnomaly(c.Request.Context(), tx)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction":  tx.Hash,
		"anomalyScore": score,
		"mlAvailable":  available,
	})
}

// ModelInfo handles GET /api/model/info.
func (h *Handler) ModelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ModelInfo())
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
