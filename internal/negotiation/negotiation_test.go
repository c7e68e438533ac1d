package negotiation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/agentpay/internal/budget"
	"github.com/agentpay/agentpay/internal/engagement"
	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/escrow"
	"github.com/agentpay/agentpay/internal/fees"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/logging"
	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/notification"
	"github.com/agentpay/agentpay/internal/store"
	"github.com/agentpay/agentpay/internal/wallet"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type captured struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (c *captured) Send(_ context.Context, m notification.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
	return nil
}

func (c *captured) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.Kind)
	}
	return out
}

type fixture struct {
	svc      *Service
	ledger   *ledger.Ledger
	wallets  *wallet.Service
	budgets  *budget.Service
	recorder *engagement.Recorder
	notes    *captured
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, store.NewMemory())
}

func newFixtureWith(t *testing.T, st store.Store) *fixture {
	t.Helper()
	log := logging.Discard()
	led := ledger.New(st, log)
	wallets := wallet.NewService(led, log, "USD")
	budgets := budget.NewService(led, wallets, log, d("1000"))
	f := &fixture{
		ledger:   led,
		wallets:  wallets,
		budgets:  budgets,
		recorder: engagement.NewRecorder(st, nil, log, 0),
		notes:    &captured{},
	}
	f.svc = NewService(Deps{
		Ledger:   led,
		Wallets:  wallets,
		Budgets:  budgets,
		Escrows:  escrow.NewService(led, wallets, log),
		Fees:     fees.Default(1000),
		Recorder: f.recorder,
		Notifier: f.notes,
		Logger:   log,
	})
	return f
}

func (f *fixture) fund(t *testing.T, agentID, amount string) model.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := f.wallets.Ensure(ctx, wallet.Owner{Type: model.OwnerAgent, ID: agentID})
	require.NoError(t, err)
	if a := d(amount); a.IsPositive() {
		_, err = f.ledger.Credit(ctx, ledger.Entry{WalletID: w.ID, Amount: a, Reference: "topup"})
		require.NoError(t, err)
	}
	return w
}

func (f *fixture) wallet(t *testing.T, id string) model.Wallet {
	t.Helper()
	w, err := f.wallets.Get(context.Background(), id)
	require.NoError(t, err)
	return w
}

func (f *fixture) platform(t *testing.T) model.Wallet {
	t.Helper()
	w, err := f.wallets.Ensure(context.Background(), wallet.Owner{Type: model.OwnerPlatform, ID: model.PlatformOwnerID})
	require.NoError(t, err)
	return w
}

func (f *fixture) propose(t *testing.T, budgetAmount string) model.Negotiation {
	t.Helper()
	n, err := f.svc.Propose(context.Background(), ProposeInput{
		RequesterAgentID: "requester",
		ResponderAgentID: "responder",
		Proposal:         model.Proposal{Service: "summarize", Budget: d(budgetAmount)},
	})
	require.NoError(t, err)
	return n
}

func price(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func TestFullDealSettlesWithFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fund(t, "requester", "100")
	seller := f.fund(t, "responder", "0")

	n := f.propose(t, "50")
	assert.Equal(t, model.NegotiationPending, n.Status)
	assert.Equal(t, "responder", n.AwaitingAgentID)
	assert.Equal(t, "50", f.wallet(t, buyer.ID).Reserved.String())

	out, err := f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: "accepted", Price: price("45")})
	require.NoError(t, err)
	require.NotNil(t, out.Agreement)
	require.NotNil(t, out.Escrow)
	assert.Equal(t, model.NegotiationAccepted, out.Negotiation.Status)
	assert.Equal(t, model.EscrowHeld, out.Escrow.Status)
	assert.Equal(t, "45", out.Escrow.Amount.String())
	assert.Equal(t, "45", f.wallet(t, buyer.ID).Reserved.String())

	_, err = f.svc.Deliver(ctx, DeliverInput{NegotiationID: n.ID, AgentID: "responder", Result: "done", Evidence: "s3://out"})
	require.NoError(t, err)

	v, err := f.svc.Verify(ctx, VerifyInput{AgreementID: out.Agreement.ID, Status: model.VerificationVerified})
	require.NoError(t, err)
	assert.False(t, v.Replayed)
	assert.Equal(t, model.AgreementCompleted, v.Agreement.Status)
	assert.Equal(t, model.NegotiationCompleted, v.Negotiation.Status)
	assert.Equal(t, "40.5", v.Escrow.PayoutAmount.String())
	assert.Equal(t, "4.5", v.Escrow.FeeAmount.String())

	b := f.wallet(t, buyer.ID)
	assert.Equal(t, "55", b.Balance.String())
	assert.True(t, b.Reserved.IsZero())
	assert.Equal(t, "40.5", f.wallet(t, seller.ID).Balance.String())
	assert.Equal(t, "4.5", f.wallet(t, f.platform(t).ID).Balance.String())

	m, err := f.recorder.Get(ctx, "requester", "responder", engagement.InitiatorNegotiation)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Count)
	assert.Equal(t, "45", m.TotalSpend.String())

	assert.Contains(t, f.notes.kinds(), notification.KindProposalReceived)
	assert.Contains(t, f.notes.kinds(), notification.KindEscrowReleased)
}

func TestVerifyReplayReturnsStoredOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fund(t, "requester", "100")
	f.fund(t, "responder", "0")

	n := f.propose(t, "50")
	out, err := f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: "ACCEPTED"})
	require.NoError(t, err)
	_, err = f.svc.Deliver(ctx, DeliverInput{NegotiationID: n.ID, AgentID: "responder", Result: "done"})
	require.NoError(t, err)
	first, err := f.svc.Verify(ctx, VerifyInput{AgreementID: out.Agreement.ID, Status: "verified"})
	require.NoError(t, err)

	again, err := f.svc.Verify(ctx, VerifyInput{AgreementID: out.Agreement.ID, Status: model.VerificationVerified})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Verification.ID, again.Verification.ID)
	assert.Equal(t, "50", f.wallet(t, buyer.ID).Balance.String())

	_, err = f.svc.Verify(ctx, VerifyInput{AgreementID: out.Agreement.ID, Status: model.VerificationRejected})
	assert.True(t, errors.Is(err, errs.ErrInvalidState))

	view, err := f.svc.GetAgreement(ctx, out.Agreement.ID)
	require.NoError(t, err)
	assert.Len(t, view.Verifications, 1)

	m, err := f.recorder.Get(ctx, "requester", "responder", engagement.InitiatorNegotiation)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Count)
}

func TestProposeWithoutFundsLeavesNothing(t *testing.T) {
	f := newFixture(t)
	buyer := f.fund(t, "requester", "10")
	f.fund(t, "responder", "0")

	_, err := f.svc.Propose(context.Background(), ProposeInput{
		RequesterAgentID: "requester",
		ResponderAgentID: "responder",
		Proposal:         model.Proposal{Service: "summarize", Budget: d("50")},
	})
	assert.True(t, errors.Is(err, errs.ErrInsufficientFunds))

	w := f.wallet(t, buyer.ID)
	assert.True(t, w.Reserved.IsZero())
	assert.Equal(t, "10", w.Balance.String())

	view, err := f.budgets.Get(context.Background(), "requester")
	require.NoError(t, err)
	assert.Equal(t, "1000", view.Budget.Remaining.String())
	assert.Empty(t, f.notes.kinds())
}

func TestProposeOverBudgetIsExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fund(t, "requester", "100")
	f.fund(t, "responder", "0")
	limit := d("20")
	_, err := f.budgets.Update(ctx, "requester", budget.Update{MonthlyLimit: &limit})
	require.NoError(t, err)

	_, err = f.svc.Propose(ctx, ProposeInput{
		RequesterAgentID: "requester",
		ResponderAgentID: "responder",
		Proposal:         model.Proposal{Service: "summarize", Budget: d("30")},
	})
	assert.True(t, errors.Is(err, errs.ErrBudgetExhausted))
	assert.True(t, f.wallet(t, buyer.ID).Reserved.IsZero())
}

func TestRejectedVerificationRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fund(t, "requester", "100")
	seller := f.fund(t, "responder", "0")

	n := f.propose(t, "50")
	out, err := f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: "ACCEPTED", Price: price("45")})
	require.NoError(t, err)

	v, err := f.svc.Verify(ctx, VerifyInput{AgreementID: out.Agreement.ID, Status: model.VerificationRejected, Evidence: "wrong output"})
	require.NoError(t, err)
	assert.Equal(t, model.AgreementDisputed, v.Agreement.Status)
	assert.Equal(t, model.NegotiationDisputed, v.Negotiation.Status)
	assert.Equal(t, model.EscrowRefunded, v.Escrow.Status)

	b := f.wallet(t, buyer.ID)
	assert.Equal(t, "100", b.Balance.String())
	assert.True(t, b.Reserved.IsZero())
	assert.True(t, f.wallet(t, seller.ID).Balance.IsZero())
	assert.Contains(t, f.notes.kinds(), notification.KindEscrowRefunded)
}

func TestConcurrentRespondsPickOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fund(t, "requester", "100")
	f.fund(t, "responder", "0")
	n := f.propose(t, "50")

	statuses := []string{"ACCEPTED", "DECLINED", "ACCEPTED", "REJECTED", "ACCEPTED", "DECLINED"}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, st := range statuses {
		wg.Add(1)
		go func(st string) {
			defer wg.Done()
			_, err := f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: st})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, errs.ErrInvalidTransition), "unexpected error %v", err)
		}(st)
	}
	wg.Wait()
	assert.Equal(t, 1, successes)

	got, err := f.svc.Get(ctx, n.ID)
	require.NoError(t, err)
	w := f.wallet(t, buyer.ID)
	switch got.Status {
	case model.NegotiationAccepted:
		assert.Equal(t, "50", w.Reserved.String())
	case model.NegotiationDeclined:
		assert.True(t, w.Reserved.IsZero())
	default:
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestCounterFlipsTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fund(t, "requester", "100")
	f.fund(t, "responder", "0")
	n := f.propose(t, "40")

	out, err := f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: "COUNTERED", Price: price("60"), Terms: "rush job"})
	require.NoError(t, err)
	assert.Equal(t, model.NegotiationCountered, out.Negotiation.Status)
	assert.Equal(t, "requester", out.Negotiation.AwaitingAgentID)
	assert.Equal(t, 1, out.Negotiation.Round)

	_, err = f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: "ACCEPTED"})
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))

	_, err = f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "requester", Status: "ACCEPTED", Price: price("70")})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))

	out, err = f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "requester", Status: "ACCEPTED"})
	require.NoError(t, err)
	assert.Equal(t, "60", out.Agreement.Price.String())
	assert.Equal(t, "60", out.Escrow.Amount.String())
	assert.Equal(t, "60", f.wallet(t, buyer.ID).Reserved.String())

	view, err := f.budgets.Get(ctx, "requester")
	require.NoError(t, err)
	assert.Equal(t, "940", view.Budget.Remaining.String())
}

func TestRequesterCannotAcceptOwnCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fund(t, "requester", "100")
	f.fund(t, "responder", "0")
	n := f.propose(t, "40")

	_, err := f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: "COUNTERED", Price: price("60")})
	require.NoError(t, err)
	out, err := f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "requester", Status: "COUNTERED", Price: price("55")})
	require.NoError(t, err)
	assert.Equal(t, "responder", out.Negotiation.AwaitingAgentID)

	_, err = f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, Status: "ACCEPTED"})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
	_, err = f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "requester", Status: "ACCEPTED"})
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))

	got, err := f.svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NegotiationCountered, got.Status)
	assert.Equal(t, "40", f.wallet(t, buyer.ID).Reserved.String())

	_, err = f.svc.Cancel(ctx, n.ID, "")
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
	_, err = f.svc.Deliver(ctx, DeliverInput{NegotiationID: n.ID, Result: "anon"})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))

	out, err = f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: "ACCEPTED"})
	require.NoError(t, err)
	assert.Equal(t, "55", out.Agreement.Price.String())
}

func TestAcceptLocksBudgetThenWalletsAscending(t *testing.T) {
	trace := store.NewLockTrace(store.NewMemory())
	f := newFixtureWith(t, trace)
	ctx := context.Background()
	alice := f.fund(t, "alice", "100")
	bob := f.fund(t, "bob", "100")
	ascending := []string{alice.ID, bob.ID}
	sort.Strings(ascending)

	// One deal each way, so in one of them the responder's wallet sorts first.
	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		n, err := f.svc.Propose(ctx, ProposeInput{
			RequesterAgentID: pair[0],
			ResponderAgentID: pair[1],
			Proposal:         model.Proposal{Service: "summarize", Budget: d("20")},
		})
		require.NoError(t, err)
		_, err = f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: pair[1], Status: "COUNTERED", Price: price("30")})
		require.NoError(t, err)

		trace.Reset()
		_, err = f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: pair[0], Status: "ACCEPTED"})
		require.NoError(t, err)
		assert.Equal(t, append([]string{"budget:" + pair[0]}, ascending...), trace.FirstLocks(), "%s buying from %s", pair[0], pair[1])
	}

	// Price below the hold: no budget lock, wallets still ascending.
	n, err := f.svc.Propose(ctx, ProposeInput{
		RequesterAgentID: "bob",
		ResponderAgentID: "alice",
		Proposal:         model.Proposal{Service: "summarize", Budget: d("20")},
	})
	require.NoError(t, err)
	trace.Reset()
	_, err = f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "alice", Status: "ACCEPTED", Price: price("10")})
	require.NoError(t, err)
	assert.Equal(t, ascending, trace.FirstLocks())
}

func TestCounterRequiresPrice(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "requester", "100")
	f.fund(t, "responder", "0")
	n := f.propose(t, "40")

	_, err := f.svc.Respond(context.Background(), RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: "COUNTERED"})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))

	_, err = f.svc.Respond(context.Background(), RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: "COMPLETED"})
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))
}

func TestCancelReleasesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fund(t, "requester", "100")
	f.fund(t, "responder", "0")
	n := f.propose(t, "50")

	_, err := f.svc.Cancel(ctx, n.ID, "responder")
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))

	got, err := f.svc.Cancel(ctx, n.ID, "requester")
	require.NoError(t, err)
	assert.Equal(t, model.NegotiationCancelled, got.Status)
	assert.True(t, got.HoldAmount.IsZero())
	assert.True(t, f.wallet(t, buyer.ID).Reserved.IsZero())

	_, err = f.svc.Cancel(ctx, n.ID, "requester")
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))
	_, err = f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: "ACCEPTED"})
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))
}

func TestDeliverAndVerifyGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "requester", "100")
	f.fund(t, "responder", "0")
	n := f.propose(t, "50")

	_, err := f.svc.Deliver(ctx, DeliverInput{NegotiationID: n.ID, AgentID: "responder", Result: "early"})
	assert.True(t, errors.Is(err, errs.ErrInvalidState))

	out, err := f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: "ACCEPTED"})
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, VerifyInput{AgreementID: out.Agreement.ID, Status: model.VerificationVerified})
	assert.True(t, errors.Is(err, errs.ErrInvalidState))

	_, err = f.svc.Deliver(ctx, DeliverInput{NegotiationID: n.ID, AgentID: "requester", Result: "spoofed"})
	assert.True(t, errors.Is(err, errs.ErrInvalidState))

	_, err = f.svc.Deliver(ctx, DeliverInput{NegotiationID: n.ID, AgentID: "responder", Result: "done"})
	require.NoError(t, err)
	_, err = f.svc.Deliver(ctx, DeliverInput{NegotiationID: n.ID, AgentID: "responder", Result: "twice"})
	assert.True(t, errors.Is(err, errs.ErrInvalidState))

	_, err = f.svc.Verify(ctx, VerifyInput{AgreementID: out.Agreement.ID, Status: "MAYBE"})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestClosedWalletBlocksResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "requester", "100")
	seller := f.fund(t, "responder", "0")
	n := f.propose(t, "50")

	_, err := f.wallets.SetStatus(ctx, seller.ID, model.WalletSuspended)
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, RespondInput{NegotiationID: n.ID, AgentID: "responder", Status: "ACCEPTED"})
	assert.True(t, errors.Is(err, errs.ErrWalletUnavailable))

	got, err := f.svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NegotiationPending, got.Status)
}

func TestProposeRejectsSelfDealing(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "requester", "100")
	_, err := f.svc.Propose(context.Background(), ProposeInput{
		RequesterAgentID: "requester",
		ResponderAgentID: "requester",
		Proposal:         model.Proposal{Service: "summarize", Budget: d("5")},
	})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}
