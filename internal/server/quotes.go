package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	quotedomain "github.com/smallbiznis/fxquote/internal/quote/domain"
)

type createQuoteRequest struct {
	FromCurrency string      `json:"from_currency" binding:"required,currency"`
	ToCurrency   string      `json:"to_currency" binding:"required,currency"`
	Amount       json.Number `json:"amount" binding:"required"`
}

func (s *Server) CreateQuote(c *gin.Context) {
	var req createQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	result, err := s.quoteSvc.Create(c.Request.Context(), quotedomain.CreateRequest{
		IdempotencyKey: strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)),
		FromCurrency:   req.FromCurrency,
		ToCurrency:     req.ToCurrency,
		Amount:         req.Amount.String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	writeCreated(c, result.Replayed, quotedomain.NewResponse(result.Quote))
}

func (s *Server) GetQuote(c *gin.Context) {
	quote, err := s.quoteSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quotedomain.NewResponse(quote)})
}
