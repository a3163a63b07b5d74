package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"purifier-console/internal/contract"
	"purifier-console/internal/pricing"
	"purifier-console/internal/service"
	"purifier-console/internal/validation"
)

type previewRequest struct {
	BasePrice       decimal.Decimal `json:"basePrice"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Offer           *pricing.Offer  `json:"offer,omitempty"`
}

type orderRequest struct {
	CustomerRef string                `json:"customerRef"`
	Lines       []service.LineRequest `json:"lines"`
}

// periodRequest est la saisie d'une période de contrat. startDate accepte
// RFC 3339 ou une date seule (AAAA-MM-JJ, minuit UTC).
type periodRequest struct {
	PlanName       string                 `json:"planName"`
	PlanType       string                 `json:"planType"`
	StartDate      string                 `json:"startDate,omitempty"`
	DurationMonths int                    `json:"durationMonths"`
	Amount         decimal.Decimal        `json:"amount"`
	AmountPaid     decimal.Decimal        `json:"amountPaid"`
	PaymentStatus  contract.PaymentStatus `json:"paymentStatus,omitempty"`
	PaymentMode    string                 `json:"paymentMode,omitempty"`
	ServicesTotal  int                    `json:"servicesTotal"`
	PartsIncluded  bool                   `json:"partsIncluded"`
}

type renewRequest struct {
	periodRequest
	ExpectedVersion int `json:"expectedVersion"`
}

type createContractRequest struct {
	periodRequest
	CustomerRef        string        `json:"customerRef"`
	Kind               contract.Kind `json:"kind"`
	ProductRef         string        `json:"productRef,omitempty"`
	AssignedTechnician string        `json:"assignedTechnician,omitempty"`
}

func (r periodRequest) input() (contract.RenewalInput, error) {
	in := contract.RenewalInput{
		PlanName:       r.PlanName,
		PlanType:       r.PlanType,
		DurationMonths: r.DurationMonths,
		Amount:         r.Amount,
		AmountPaid:     r.AmountPaid,
		PaymentStatus:  r.PaymentStatus,
		PaymentMode:    r.PaymentMode,
		ServicesTotal:  r.ServicesTotal,
		PartsIncluded:  r.PartsIncluded,
	}
	if r.StartDate != "" {
		start, err := parseDate(r.StartDate)
		if err != nil {
			return contract.RenewalInput{}, validation.Fieldf("startDate", "date %q illisible", r.StartDate)
		}
		in.StartDate = &start
	}
	return in, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func (h *Handler) productPrice(c *gin.Context) {
	breakdown, err := h.svc.QuoteProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

func (h *Handler) pricingPreview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	breakdown, err := pricing.ComputeItemPrice(req.BasePrice, req.DiscountPercent, req.Offer)
	if err != nil {
		h.metrics.IncValidationFailures()
		h.fail(c, err)
		return
	}
	h.metrics.AddItemsPriced(1)
	c.JSON(http.StatusOK, breakdown)
}

func (h *Handler) quoteOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	totals, err := h.svc.QuoteOrder(c.Request.Context(), req.Lines)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (h *Handler) placeOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	placement, err := h.svc.PlaceOrder(c.Request.Context(), req.CustomerRef, req.Lines)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, placement)
}

func (h *Handler) createContract(c *gin.Context) {
	var req createContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	period, err := req.input()
	if err != nil {
		h.fail(c, err)
		return
	}
	v, err := h.svc.CreateContract(c.Request.Context(), req.CustomerRef, contract.PlanInput{
		RenewalInput:       period,
		Kind:               req.Kind,
		ProductRef:         req.ProductRef,
		AssignedTechnician: req.AssignedTechnician,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *Handler) listContracts(c *gin.Context) {
	var filter contract.Status
	if raw := c.Query("status"); raw != "" {
		status, ok := contract.ParseStatus(raw)
		if !ok {
			h.fail(c, validation.Fieldf("status", "statut %q inconnu", raw))
			return
		}
		filter = status
	}
	views, err := h.svc.ListContracts(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) getContract(c *gin.Context) {
	v, err := h.svc.ContractStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) contractHistory(c *gin.Context) {
	history, err := h.svc.ContractHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) renewContract(c *gin.Context) {
	var req renewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(c, err)
		return
	}
	renewal, err := h.svc.RenewContract(c.Request.Context(), c.Param("id"), req.ExpectedVersion, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"contract": renewal.Contract,
		"entry":    renewal.Entry,
		"status":   contract.Evaluate(renewal.Contract, h.svc.Now()),
	})
}

func (h *Handler) dashboard(c *gin.Context) {
	d, err := h.svc.Dashboard(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
