package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	transactiondomain "github.com/smallbiznis/fxquote/internal/transaction/domain"
	"github.com/smallbiznis/fxquote/pkg/db/pagination"
)

type createTransactionRequest struct {
	Quote  string      `json:"quote" binding:"required"`
	Amount json.Number `json:"amount" binding:"required"`
}

type listTransactionsQuery struct {
	Quote     string `form:"quote"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=250"`
	PageToken string `form:"page_token"`
}

type listTransactionsResponse struct {
	pagination.PageInfo
	Transactions []transactiondomain.Response `json:"transactions"`
}

func (s *Server) CreateTransaction(c *gin.Context) {
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	result, err := s.transactionSvc.Create(c.Request.Context(), transactiondomain.CreateRequest{
		IdempotencyKey: strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)),
		QuoteID:        req.Quote,
		Amount:         req.Amount.String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	writeCreated(c, result.Replayed, transactiondomain.NewResponse(result.Transaction))
}

func (s *Server) GetTransaction(c *gin.Context) {
	txn, err := s.transactionSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": transactiondomain.NewResponse(txn)})
}

func (s *Server) ListTransactions(c *gin.Context) {
	var query listTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	resp, err := s.transactionSvc.List(c.Request.Context(), transactiondomain.ListRequest{
		QuoteID:   strings.TrimSpace(query.Quote),
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := listTransactionsResponse{
		PageInfo:     resp.PageInfo,
		Transactions: make([]transactiondomain.Response, 0, len(resp.Transactions)),
	}
	for _, txn := range resp.Transactions {
		out.Transactions = append(out.Transactions, transactiondomain.NewResponse(txn))
	}

	c.JSON(http.StatusOK, gin.H{"data": out})
}
