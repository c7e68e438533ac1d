package negotiation

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/escrow"
	"github.com/agentpay/agentpay/internal/model"
)

// Handler exposes negotiation and agreement endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a negotiation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type proposeRequest struct {
	RequesterAgentID string          `json:"requester_agent_id"`
	ResponderAgentID string          `json:"responder_agent_id"`
	Service          string          `json:"service"`
	Budget           decimal.Decimal `json:"budget"`
	Requirements     map[string]any  `json:"requirements"`
}

type respondRequest struct {
	AgentID    string           `json:"agent_id"`
	Status     string           `json:"status"`
	Price      *decimal.Decimal `json:"price"`
	Terms      string           `json:"terms"`
	WorkflowID string           `json:"workflow_id"`
}

type cancelRequest struct {
	AgentID string `json:"agent_id"`
}

type deliverRequest struct {
	AgentID  string `json:"agent_id"`
	Result   string `json:"result"`
	Evidence string `json:"evidence"`
}

type verifyRequest struct {
	Status   string `json:"status"`
	Evidence string `json:"evidence"`
}

// Response is the wire form of a negotiation.
type Response struct {
	ID               string                 `json:"id"`
	RequesterAgentID string                 `json:"requester_agent_id"`
	ResponderAgentID string                 `json:"responder_agent_id"`
	Status           string                 `json:"status"`
	Payload          model.ProposalPayload  `json:"payload"`
	CounterPayload   *model.ProposalPayload `json:"counter_payload,omitempty"`
	AwaitingAgentID  string                 `json:"awaiting_agent_id,omitempty"`
	Round            int                    `json:"round"`
	HoldAmount       decimal.Decimal        `json:"hold_amount"`
	AgreedPrice      *decimal.Decimal       `json:"agreed_price,omitempty"`
	AgreementID      string                 `json:"agreement_id,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// ToResponse renders a negotiation for the API.
func ToResponse(n model.Negotiation) Response {
	proposal := n.Payload
	r := Response{
		ID:               n.ID,
		RequesterAgentID: n.RequesterAgentID,
		ResponderAgentID: n.ResponderAgentID,
		Status:           string(n.Status),
		Payload:          model.ProposalPayload{Proposal: &proposal},
		AwaitingAgentID:  n.AwaitingAgentID,
		Round:            n.Round,
		HoldAmount:       n.HoldAmount,
		AgreedPrice:      n.AgreedPrice,
		AgreementID:      n.AgreementID,
		CreatedAt:        n.CreatedAt,
		UpdatedAt:        n.UpdatedAt,
	}
	if n.CounterPayload != nil {
		counter := *n.CounterPayload
		r.CounterPayload = &model.ProposalPayload{Counter: &counter}
	}
	return r
}

// AgreementResponse is the wire form of a service agreement.
type AgreementResponse struct {
	ID            string                 `json:"id"`
	NegotiationID string                 `json:"negotiation_id"`
	AgentID       string                 `json:"agent_id"`
	BuyerID       string                 `json:"buyer_id"`
	WorkflowID    string                 `json:"workflow_id,omitempty"`
	EscrowID      string                 `json:"escrow_id"`
	OutcomeType   string                 `json:"outcome_type"`
	Price         decimal.Decimal        `json:"price"`
	Status        string                 `json:"status"`
	Result        string                 `json:"result,omitempty"`
	Evidence      string                 `json:"evidence,omitempty"`
	DeliveredAt   *time.Time             `json:"delivered_at,omitempty"`
	Verifications []verificationResponse `json:"verifications,omitempty"`
}

type verificationResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Evidence  string    `json:"evidence,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AgreementToResponse renders an agreement and its verdicts.
func AgreementToResponse(a model.ServiceAgreement, history []model.OutcomeVerification) AgreementResponse {
	r := AgreementResponse{
		ID:            a.ID,
		NegotiationID: a.NegotiationID,
		AgentID:       a.AgentID,
		BuyerID:       a.BuyerID,
		WorkflowID:    a.WorkflowID,
		EscrowID:      a.EscrowID,
		OutcomeType:   a.OutcomeType,
		Price:         a.Price,
		Status:        string(a.Status),
		Result:        a.Result,
		Evidence:      a.Evidence,
		DeliveredAt:   a.DeliveredAt,
	}
	for _, v := range history {
		r.Verifications = append(r.Verifications, verificationResponse{
			ID:        v.ID,
			Status:    string(v.Status),
			Evidence:  v.Evidence,
			CreatedAt: v.CreatedAt,
		})
	}
	return r
}

type outcomeResponse struct {
	Negotiation Response           `json:"negotiation"`
	Agreement   *AgreementResponse `json:"agreement,omitempty"`
	Escrow      *escrow.Response   `json:"escrow,omitempty"`
}

type verifyResponse struct {
	Agreement   AgreementResponse `json:"agreement"`
	Negotiation Response          `json:"negotiation"`
	Escrow      escrow.Response   `json:"escrow"`
	Replayed    bool              `json:"replayed"`
}

// Propose opens a negotiation.
func (h *Handler) Propose(c *fiber.Ctx) error {
	var req proposeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	n, err := h.service.Propose(c.UserContext(), ProposeInput{
		RequesterAgentID: req.RequesterAgentID,
		ResponderAgentID: req.ResponderAgentID,
		Proposal: model.Proposal{
			Service:      req.Service,
			Budget:       req.Budget,
			Requirements: req.Requirements,
		},
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(ToResponse(n))
}

// Get returns a negotiation.
func (h *Handler) Get(c *fiber.Ctx) error {
	n, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ToResponse(n))
}

// Respond accepts, declines or counters.
func (h *Handler) Respond(c *fiber.Ctx) error {
	var req respondRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	out, err := h.service.Respond(c.UserContext(), RespondInput{
		NegotiationID: c.Params("id"),
		AgentID:       req.AgentID,
		Status:        req.Status,
		Price:         req.Price,
		Terms:         req.Terms,
		WorkflowID:    req.WorkflowID,
	})
	if err != nil {
		return err
	}
	resp := outcomeResponse{Negotiation: ToResponse(out.Negotiation)}
	if out.Agreement != nil {
		a := AgreementToResponse(*out.Agreement, nil)
		resp.Agreement = &a
	}
	if out.Escrow != nil {
		e := escrow.ToResponse(*out.Escrow)
		resp.Escrow = &e
	}
	return c.Status(http.StatusOK).JSON(resp)
}

// Cancel withdraws a pending negotiation.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	var req cancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	n, err := h.service.Cancel(c.UserContext(), c.Params("id"), req.AgentID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ToResponse(n))
}

// Deliver records the responder's result.
func (h *Handler) Deliver(c *fiber.Ctx) error {
	var req deliverRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	a, err := h.service.Deliver(c.UserContext(), DeliverInput{
		NegotiationID: c.Params("id"),
		AgentID:       req.AgentID,
		Result:        req.Result,
		Evidence:      req.Evidence,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(AgreementToResponse(a, nil))
}

// Verify settles an agreement with a verdict.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	out, err := h.service.Verify(c.UserContext(), VerifyInput{
		AgreementID: c.Params("id"),
		Status:      model.VerificationStatus(req.Status),
		Evidence:    req.Evidence,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(verifyResponse{
		Agreement:   AgreementToResponse(out.Agreement, []model.OutcomeVerification{out.Verification}),
		Negotiation: ToResponse(out.Negotiation),
		Escrow:      escrow.ToResponse(out.Escrow),
		Replayed:    out.Replayed,
	})
}

// GetAgreement returns an agreement with its verification history.
func (h *Handler) GetAgreement(c *fiber.Ctx) error {
	v, err := h.service.GetAgreement(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(AgreementToResponse(v.Agreement, v.Verifications))
}
