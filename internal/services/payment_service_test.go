package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v74"

	"github.com/javajoker/revshare-backend/internal/models"
	"github.com/javajoker/revshare-backend/internal/utils"
)

const testWebhookSecret = "whsec_test_secret"

type PaymentServiceTestSuite struct {
	serviceSuite
	alice, dave *models.User
	parent      *models.Content
}

func TestPaymentServiceTestSuite(t *testing.T) {
	suite.Run(t, new(PaymentServiceTestSuite))
}

func (s *PaymentServiceTestSuite) SetupTest() {
	s.paymentCfg.StripeWebhookSecret = testWebhookSecret
	s.paymentCfg.PlatformFeeBps = 250
	s.serviceSuite.SetupTest()

	s.alice = s.user("alice")
	s.dave = s.user("dave")
	s.parent = s.content(s.alice, "parent")
	s.lockShares(s.alice, s.parent, manifestA, share{user: s.alice, bps: 10000})
}

func (s *PaymentServiceTestSuite) signedEvent(eventType, piID string, amount, received int64) ([]byte, string) {
	payload, err := json.Marshal(map[string]interface{}{
		"id":          "evt_test",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":              piID,
				"object":          "payment_intent",
				"amount":          amount,
				"amount_received": received,
				"currency":        "sat",
			},
		},
	})
	s.Require().NoError(err)

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return payload, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func (s *PaymentServiceTestSuite) TestIntentRequiresLockedManifest() {
	draft := s.content(s.alice, "draft")
	_, err := s.payments.CreatePaymentIntent(s.ctx, nil, &CreatePaymentIntentRequest{
		ContentID: draft.ID, ManifestSha256: manifestA, Amount: 100, Rail: models.PaymentRailManual,
	})
	assert.True(s.T(), utils.HasCode(err, utils.CodeSplitNotLocked))

	_, err = s.payments.CreatePaymentIntent(s.ctx, nil, &CreatePaymentIntentRequest{
		ContentID: s.parent.ID, ManifestSha256: manifestB, Amount: 100, Rail: models.PaymentRailManual,
	})
	assert.True(s.T(), utils.HasCode(err, utils.CodePaymentDetailsMismatch))

	_, err = s.payments.CreatePaymentIntent(s.ctx, nil, &CreatePaymentIntentRequest{
		ContentID: s.parent.ID, ManifestSha256: manifestA, Amount: 0, Rail: models.PaymentRailManual,
	})
	assert.True(s.T(), utils.HasCode(err, utils.CodeValidationFailed))
}

func (s *PaymentServiceTestSuite) TestUnclearedDerivativeCannotBeSold() {
	remix := s.content(s.dave, "remix")
	s.lockShares(s.dave, remix, manifestB, share{user: s.dave, bps: 10000})
	l := s.linkContent(s.dave, remix, s.parent, true, 0)

	_, err := s.payments.CreatePaymentIntent(s.ctx, nil, &CreatePaymentIntentRequest{
		ContentID: remix.ID, ManifestSha256: manifestB, Amount: 100, Rail: models.PaymentRailManual,
	})
	assert.True(s.T(), utils.HasCode(err, utils.CodeClearanceRequired))

	state, err := s.clearance.CastVote(s.ctx, &CastVoteRequest{
		LinkID: l.ID, Approver: ByAccountID(s.alice.ID), Decision: models.VoteApprove, ProposedRateBps: int64Ptr(1500),
	})
	s.Require().NoError(err)
	s.Require().Equal(models.AuthorizationApproved, state.Authorization.Status)

	intent := s.paidIntent(remix.ID, manifestB, nil, 1000)
	result, err := s.payments.ConfirmPayment(s.ctx, &PaymentConfirmation{
		PaymentIntentID: intent.ID, ContentID: remix.ID, ManifestSha256: manifestB, NetAmount: 1000,
	})
	s.Require().NoError(err)
	assert.Equal(s.T(), int64(1500), result.Settlement.UpstreamBps)
	assert.Equal(s.T(), int64(150), result.Settlement.UpstreamAmount)
}

func (s *PaymentServiceTestSuite) TestConfirmationMustMatchIntent() {
	intent := s.paidIntent(s.parent.ID, manifestA, nil, 100)

	_, err := s.payments.ConfirmPayment(s.ctx, &PaymentConfirmation{
		PaymentIntentID: intent.ID, ContentID: s.parent.ID, ManifestSha256: manifestB, NetAmount: 100,
	})
	assert.True(s.T(), utils.HasCode(err, utils.CodePaymentDetailsMismatch))

	_, err = s.payments.ConfirmPayment(s.ctx, &PaymentConfirmation{
		PaymentIntentID: intent.ID, ContentID: s.parent.ID, ManifestSha256: manifestA, NetAmount: 101,
	})
	assert.True(s.T(), utils.HasCode(err, utils.CodeValidationFailed))

	stored, err := s.payments.GetPaymentIntent(s.ctx, intent.ID)
	s.Require().NoError(err)
	assert.False(s.T(), stored.IsPaid())
}

func (s *PaymentServiceTestSuite) TestStripeWebhookSettlesNetOfFees() {
	resp, err := s.payments.CreatePaymentIntent(s.ctx, &s.dave.ID, &CreatePaymentIntentRequest{
		ContentID: s.parent.ID, ManifestSha256: manifestA, Amount: 10000, Currency: "USD", Rail: models.PaymentRailStripe,
	})
	s.Require().NoError(err)
	assert.Equal(s.T(), "pi_test_1", resp.Intent.RailReference)
	assert.Equal(s.T(), "pi_test_1_secret", resp.ClientSecret)
	assert.Equal(s.T(), "usd", resp.Intent.Currency)

	payload, signature := s.signedEvent("payment_intent.succeeded", "pi_test_1", 10000, 10000)
	result, err := s.payments.HandleStripeWebhook(s.ctx, payload, signature)
	s.Require().NoError(err)
	s.Require().NotNil(result)
	assert.True(s.T(), result.Intent.IsPaid())
	assert.Equal(s.T(), int64(9750), result.Settlement.NetAmount)
	assert.Equal(s.T(), int64(10000), result.Settlement.GrossAmount)

	// Stripe redelivers; the settlement does not change.
	again, err := s.payments.HandleStripeWebhook(s.ctx, payload, signature)
	s.Require().NoError(err)
	assert.Equal(s.T(), result.Settlement.ID, again.Settlement.ID)

	entitlements, err := s.payments.ListEntitlements(s.ctx, s.dave.ID)
	s.Require().NoError(err)
	s.Require().Len(entitlements, 1)
	assert.Equal(s.T(), manifestA, entitlements[0].ManifestSha256)
}

func (s *PaymentServiceTestSuite) TestStripeWebhookRejectsBadSignature() {
	payload, _ := s.signedEvent("payment_intent.succeeded", "pi_test_1", 100, 100)
	_, err := s.payments.HandleStripeWebhook(s.ctx, payload, "t=1,v1=deadbeef")
	assert.True(s.T(), utils.HasCode(err, utils.CodeForbidden))
}

func (s *PaymentServiceTestSuite) TestStripeWebhookIgnoresOtherEvents() {
	payload, signature := s.signedEvent("payment_intent.created", "pi_test_1", 100, 0)
	result, err := s.payments.HandleStripeWebhook(s.ctx, payload, signature)
	s.Require().NoError(err)
	assert.Nil(s.T(), result)
}

func (s *PaymentServiceTestSuite) TestNetOfFeesRoundsFeeDown() {
	assert.Equal(s.T(), int64(9750), s.payments.NetOfFees(10000))
	// 2.5% of 999 is 24.975; the fee floors to 24.
	assert.Equal(s.T(), int64(975), s.payments.NetOfFees(999))
	assert.Equal(s.T(), int64(0), s.payments.NetOfFees(0))
}
