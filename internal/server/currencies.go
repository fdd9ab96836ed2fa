package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	currencydomain "github.com/smallbiznis/fxquote/internal/currency/domain"
)

type listCurrenciesQuery struct {
	Enabled bool `form:"enabled"`
}

func (s *Server) ListCurrencies(c *gin.Context) {
	var query listCurrenciesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	items, err := s.currencySvc.List(c.Request.Context(), currencydomain.ListRequest{
		EnabledOnly: query.Enabled,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetCurrency(c *gin.Context) {
	item, err := s.currencySvc.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
