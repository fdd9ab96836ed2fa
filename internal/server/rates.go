package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	ratedomain "github.com/smallbiznis/fxquote/internal/rate/domain"
	"github.com/smallbiznis/fxquote/pkg/db/pagination"
	"github.com/smallbiznis/fxquote/pkg/money"
)

type listRatesQuery struct {
	Base      string `form:"base" binding:"omitempty,currency"`
	Target    string `form:"target" binding:"omitempty,currency"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=250"`
	PageToken string `form:"page_token"`
}

type resolveRateQuery struct {
	Base   string `form:"base" binding:"required,currency"`
	Target string `form:"target" binding:"required,currency"`
}

type rateView struct {
	ID             string    `json:"id"`
	BaseCurrency   string    `json:"base_currency"`
	TargetCurrency string    `json:"target_currency"`
	Rate           string    `json:"rate"`
	Timestamp      time.Time `json:"timestamp"`
}

type listRatesResponse struct {
	pagination.PageInfo
	Rates []rateView `json:"rates"`
}

type resolutionView struct {
	BaseCurrency   string    `json:"base_currency"`
	TargetCurrency string    `json:"target_currency"`
	Rate           string    `json:"rate"`
	ObservedAt     time.Time `json:"observed_at"`
	Derived        bool      `json:"derived"`
	Source         string    `json:"source"`
	Pivot          string    `json:"pivot,omitempty"`
}

func newRateView(r ratedomain.Rate) rateView {
	return rateView{
		ID:             r.ID.String(),
		BaseCurrency:   r.BaseCurrency,
		TargetCurrency: r.TargetCurrency,
		Rate:           money.Format(r.Value, money.RateScale),
		Timestamp:      r.ObservedAt.UTC(),
	}
}

func (s *Server) ListRates(c *gin.Context) {
	var query listRatesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	resp, err := s.rateSvc.List(c.Request.Context(), ratedomain.ListRequest{
		BaseCurrency:   strings.ToUpper(strings.TrimSpace(query.Base)),
		TargetCurrency: strings.ToUpper(strings.TrimSpace(query.Target)),
		PageToken:      query.PageToken,
		PageSize:       query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := listRatesResponse{
		PageInfo: resp.PageInfo,
		Rates:    make([]rateView, 0, len(resp.Rates)),
	}
	for _, r := range resp.Rates {
		out.Rates = append(out.Rates, newRateView(r))
	}

	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) ResolveRate(c *gin.Context) {
	var query resolveRateQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	res, err := s.resolverSvc.Resolve(c.Request.Context(), query.Base, query.Target)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resolutionView{
		BaseCurrency:   res.BaseCurrency,
		TargetCurrency: res.TargetCurrency,
		Rate:           money.Format(res.Value, money.RateScale),
		ObservedAt:     res.ObservedAt.UTC(),
		Derived:        res.Derived,
		Source:         res.Source,
		Pivot:          res.Pivot,
	}})
}
