package services

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/javajoker/revshare-backend/internal/database"
	"github.com/javajoker/revshare-backend/internal/models"
	"github.com/javajoker/revshare-backend/internal/utils"
)

type SettlementServiceTestSuite struct {
	serviceSuite
	alice, bob, carol, dave, erin *models.User
	parent, child                 *models.Content
}

func TestSettlementServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SettlementServiceTestSuite))
}

func (s *SettlementServiceTestSuite) SetupTest() {
	s.serviceSuite.SetupTest()
	s.alice = s.user("alice")
	s.bob = s.user("bob")
	s.carol = s.user("carol")
	s.dave = s.user("dave")
	s.erin = s.user("erin")

	s.parent = s.content(s.alice, "parent")
	s.lockShares(s.alice, s.parent, manifestA,
		share{user: s.alice, bps: 3333},
		share{user: s.bob, bps: 3333},
		share{user: s.carol, bps: 3334},
	)
	s.child = s.content(s.dave, "remix")
	s.lockShares(s.dave, s.child, manifestB,
		share{user: s.dave, bps: 7000},
		share{email: "Guest@Example.com", bps: 3000, role: "editor"},
	)
}

func (s *SettlementServiceTestSuite) sumLines(lines []models.SettlementLine, match func(models.SettlementLine) bool) int64 {
	var total int64
	for _, l := range lines {
		if match(l) {
			total += l.Amount
		}
	}
	return total
}

// Scenario C
func (s *SettlementServiceTestSuite) TestUpstreamCarveOutIsExact() {
	s.linkContent(s.dave, s.child, s.parent, false, 1000)
	intent := s.paidIntent(s.child.ID, manifestB, &s.erin.ID, 10000)

	result, err := s.payments.ConfirmPayment(s.ctx, &PaymentConfirmation{
		PaymentIntentID: intent.ID,
		ContentID:       s.child.ID,
		ManifestSha256:  manifestB,
		NetAmount:       10000,
	})
	s.Require().NoError(err)
	settlement := result.Settlement

	upstream := s.sumLines(settlement.Lines, func(l models.SettlementLine) bool { return l.Role == models.RoleUpstream })
	derivative := s.sumLines(settlement.Lines, func(l models.SettlementLine) bool {
		return strings.HasPrefix(l.Role, models.RoleDerivativePrefix)
	})
	assert.Equal(s.T(), int64(1000), upstream)
	assert.Equal(s.T(), int64(9000), derivative)
	assert.Equal(s.T(), int64(1000), settlement.UpstreamAmount)
	assert.Equal(s.T(), int64(10000), settlement.LinesTotal())
	s.Require().Len(settlement.Lines, 5)

	for i, l := range settlement.Lines {
		assert.Equal(s.T(), i, l.Position)
	}
	// Child lines come first, then the parent's.
	assert.Equal(s.T(), models.RoleDerivativePrefix+"collaborator", settlement.Lines[0].Role)
	assert.Equal(s.T(), models.RoleUpstream, settlement.Lines[4].Role)

	guest := s.sumLines(settlement.Lines, func(l models.SettlementLine) bool { return l.Email == "guest@example.com" && l.AccountID == nil })
	assert.Equal(s.T(), int64(2700), guest)
	assert.Len(s.T(), s.mailer.to("guest@example.com"), 1)
}

func (s *SettlementServiceTestSuite) TestStandaloneContentPaysOwnSplit() {
	intent := s.paidIntent(s.parent.ID, manifestA, nil, 100)
	result, err := s.payments.ConfirmPayment(s.ctx, &PaymentConfirmation{
		PaymentIntentID: intent.ID, ContentID: s.parent.ID, ManifestSha256: manifestA, NetAmount: 100,
	})
	s.Require().NoError(err)

	settlement := result.Settlement
	assert.Nil(s.T(), settlement.ParentLinkID)
	s.Require().Len(settlement.Lines, 3)
	amounts := map[uuid.UUID]int64{}
	for _, l := range settlement.Lines {
		amounts[*l.AccountID] = l.Amount
	}
	assert.Equal(s.T(), int64(33), amounts[s.alice.ID])
	assert.Equal(s.T(), int64(33), amounts[s.bob.ID])
	assert.Equal(s.T(), int64(34), amounts[s.carol.ID])
}

func (s *SettlementServiceTestSuite) TestFinalizeIsIdempotent() {
	intent := s.paidIntent(s.parent.ID, manifestA, &s.erin.ID, 5000)
	confirmation := &PaymentConfirmation{
		PaymentIntentID: intent.ID, ContentID: s.parent.ID, ManifestSha256: manifestA, NetAmount: 4900,
	}
	first, err := s.payments.ConfirmPayment(s.ctx, confirmation)
	s.Require().NoError(err)

	confirmation.NetAmount = 4000
	second, err := s.payments.ConfirmPayment(s.ctx, confirmation)
	s.Require().NoError(err)
	assert.Equal(s.T(), first.Settlement.ID, second.Settlement.ID)
	assert.Equal(s.T(), int64(4900), second.Settlement.NetAmount)

	again, err := s.settlements.Finalize(s.ctx, intent.ID)
	s.Require().NoError(err)
	assert.Equal(s.T(), first.Settlement.ID, again.ID)

	assert.Equal(s.T(), int64(1), s.count(&models.Settlement{}))
	assert.Equal(s.T(), int64(3), s.count(&models.SettlementLine{}))
	assert.Equal(s.T(), int64(1), s.count(&models.Entitlement{}))
	assert.Equal(s.T(), float64(1), s.counter("settlements_finalized_total", "created"))
	assert.Equal(s.T(), float64(2), s.counter("settlements_finalized_total", "existing"))
}

func (s *SettlementServiceTestSuite) TestConcurrentFinalizeStoresOneSettlement() {
	intent := s.paidIntent(s.parent.ID, manifestA, nil, 999)
	s.Require().NoError(s.db.Model(intent).Updates(map[string]interface{}{
		"status":     models.PaymentStatusPaid,
		"net_amount": 999,
	}).Error)

	ids := make([]uuid.UUID, 8)
	var g errgroup.Group
	for i := range ids {
		i := i
		g.Go(func() error {
			settlement, err := s.settlements.Finalize(s.ctx, intent.ID)
			if err != nil {
				return err
			}
			ids[i] = settlement.ID
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	for _, id := range ids {
		assert.Equal(s.T(), ids[0], id)
	}
	assert.Equal(s.T(), int64(1), s.count(&models.Settlement{}))
	assert.Equal(s.T(), int64(3), s.count(&models.SettlementLine{}))
}

func (s *SettlementServiceTestSuite) TestUnpaidIntentIsRejected() {
	intent := s.paidIntent(s.parent.ID, manifestA, nil, 100)

	_, err := s.settlements.Finalize(s.ctx, intent.ID)
	appErr, ok := utils.AsAppError(err)
	s.Require().True(ok)
	assert.Equal(s.T(), utils.CodePaymentNotPaid, appErr.Code)
	assert.True(s.T(), appErr.Retryable())
	assert.Equal(s.T(), float64(1), s.counter("finalize_failures_total", utils.CodePaymentNotPaid))
}

func (s *SettlementServiceTestSuite) TestMissingIntentIsNotFound() {
	_, err := s.settlements.Finalize(s.ctx, uuid.New())
	assert.True(s.T(), utils.HasCode(err, utils.CodeNotFound))
}

func (s *SettlementServiceTestSuite) TestUnlockedParentWritesNothing() {
	openParent := s.content(s.carol, "draft parent")
	remix := s.content(s.erin, "early remix")
	s.lockShares(s.erin, remix, manifestB, share{user: s.erin, bps: 10000})
	s.linkContent(s.erin, remix, openParent, false, 2000)

	intent := s.paidIntent(remix.ID, manifestB, nil, 1000)
	_, err := s.payments.ConfirmPayment(s.ctx, &PaymentConfirmation{
		PaymentIntentID: intent.ID, ContentID: remix.ID, ManifestSha256: manifestB, NetAmount: 1000,
	})
	s.Require().Error(err)
	assert.True(s.T(), utils.HasCode(err, utils.CodeParentSplitNotLocked))

	assert.Equal(s.T(), int64(0), s.count(&models.Settlement{}))
	assert.Equal(s.T(), int64(0), s.count(&models.SettlementLine{}))
	assert.Equal(s.T(), int64(0), s.count(&models.Entitlement{}))

	// Paid stays recorded, so finalize can be retried once the parent locks.
	stored, err := s.payments.GetPaymentIntent(s.ctx, intent.ID)
	s.Require().NoError(err)
	assert.True(s.T(), stored.IsPaid())

	s.lockShares(s.carol, openParent, manifestA, share{user: s.carol, bps: 10000})
	settlement, err := s.settlements.Finalize(s.ctx, intent.ID)
	s.Require().NoError(err)
	assert.Equal(s.T(), int64(200), settlement.UpstreamAmount)
	assert.Equal(s.T(), int64(1000), settlement.LinesTotal())
}

func (s *SettlementServiceTestSuite) TestAnonymousEntitlementIsShared() {
	for i := 0; i < 2; i++ {
		intent := s.paidIntent(s.parent.ID, manifestA, nil, 300)
		_, err := s.payments.ConfirmPayment(s.ctx, &PaymentConfirmation{
			PaymentIntentID: intent.ID, ContentID: s.parent.ID, ManifestSha256: manifestA, NetAmount: 300,
		})
		s.Require().NoError(err)
	}

	assert.Equal(s.T(), int64(2), s.count(&models.Settlement{}))
	var entitlements []models.Entitlement
	s.Require().NoError(s.db.Find(&entitlements).Error)
	s.Require().Len(entitlements, 1)
	assert.Equal(s.T(), models.AnonymousBuyerKey, entitlements[0].BuyerKey)
}

func (s *SettlementServiceTestSuite) TestListRecipientLines() {
	for _, amount := range []int64{100, 200} {
		intent := s.paidIntent(s.parent.ID, manifestA, &s.erin.ID, amount)
		_, err := s.payments.ConfirmPayment(s.ctx, &PaymentConfirmation{
			PaymentIntentID: intent.ID, ContentID: s.parent.ID, ManifestSha256: manifestA, NetAmount: amount,
		})
		s.Require().NoError(err)
	}

	lines, total, err := s.settlements.ListRecipientLines(s.ctx, ByAccountID(s.bob.ID), utils.PaginationParams{
		Page: 1, Limit: 10, Sort: "amount", Order: "asc",
	})
	s.Require().NoError(err)
	assert.Equal(s.T(), int64(2), total)
	s.Require().Len(lines, 2)
	assert.Equal(s.T(), int64(33), lines[0].Amount)
	assert.Equal(s.T(), int64(66), lines[1].Amount)
	assert.Equal(s.T(), s.parent.ID, lines[0].ContentID)
	assert.Equal(s.T(), "sat", lines[0].Currency)

	_, _, err = s.settlements.ListRecipientLines(s.ctx, ApproverIdentity{}, utils.PaginationParams{Page: 1, Limit: 10})
	assert.True(s.T(), utils.HasCode(err, utils.CodeValidationFailed))
}

// A finalize that loses the insert race answers with the settlement the
// other transaction committed.
func (s *SettlementServiceTestSuite) TestFinalizeLosingRaceReturnsWinner() {
	path := filepath.Join(s.T().TempDir(), "race.db")
	db := s.openFile(path)
	s.Require().NoError(database.RunMigrations(db))
	rivalDB := s.openFile(path)
	defer database.Close(rivalDB)

	database.Close(s.db)
	s.wire(db)
	alice := s.user("alice")
	song := s.content(alice, "song")
	s.lockShares(alice, song, manifestA, share{user: alice, bps: 10000})
	intent := s.paidIntent(song.ID, manifestA, nil, 500)
	s.Require().NoError(s.db.Model(intent).Update("status", models.PaymentStatusPaid).Error)

	rival := NewSettlementService(rivalDB, NewNotificationServiceWithMailer(s.mailer), s.metrics)
	var (
		once     sync.Once
		winner   *models.Settlement
		rivalErr error
	)
	s.Require().NoError(db.Callback().Create().Before("gorm:create").Register("test:rival_finalize", func(tx *gorm.DB) {
		if tx.Statement.Table != "settlements" {
			return
		}
		once.Do(func() {
			winner, rivalErr = rival.Finalize(s.ctx, intent.ID)
		})
	}))

	settlement, err := s.settlements.Finalize(s.ctx, intent.ID)
	s.Require().NoError(rivalErr)
	s.Require().NotNil(winner)
	s.Require().NoError(err)
	assert.Equal(s.T(), winner.ID, settlement.ID)
	assert.Equal(s.T(), int64(1), s.count(&models.Settlement{}))
	assert.Equal(s.T(), int64(1), s.count(&models.Entitlement{}))
}
