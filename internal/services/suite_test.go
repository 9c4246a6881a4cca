package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/revshare-backend/internal/config"
	"github.com/javajoker/revshare-backend/internal/database"
	"github.com/javajoker/revshare-backend/internal/metrics"
	"github.com/javajoker/revshare-backend/internal/models"
)

var (
	manifestA = strings.Repeat("a", 64)
	manifestB = strings.Repeat("b", 64)
)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) to(address string) []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMail
	for _, mail := range m.sent {
		if mail.To == address {
			out = append(out, mail)
		}
	}
	return out
}

type fakeCardGateway struct {
	calls int
}

func (g *fakeCardGateway) CreateIntent(amount int64, currency string, metadata map[string]string) (string, string, error) {
	g.calls++
	ref := fmt.Sprintf("pi_test_%d", g.calls)
	return ref, ref + "_secret", nil
}

// serviceSuite wires every service against a private in-memory database.
type serviceSuite struct {
	suite.Suite
	ctx         context.Context
	db          *gorm.DB
	mailer      *recordingMailer
	cards       *fakeCardGateway
	metrics     *metrics.Metrics
	paymentCfg  config.PaymentConfig
	splits      *SplitService
	links       *LinkService
	clearance   *ClearanceService
	settlements *SettlementService
	payments    *PaymentService
	anchors     *AnchorService
}

func (s *serviceSuite) SetupTest() {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	s.Require().NoError(err)
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)
	s.Require().NoError(database.RunMigrations(db))

	s.ctx = context.Background()
	s.wire(db)
}

// wire builds every service on db.
func (s *serviceSuite) wire(db *gorm.DB) {
	s.db = db
	s.mailer = &recordingMailer{}
	s.cards = &fakeCardGateway{}
	s.metrics = metrics.New("test")
	if s.paymentCfg.DefaultCurrency == "" {
		s.paymentCfg.DefaultCurrency = "sat"
	}

	notifications := NewNotificationServiceWithMailer(s.mailer)
	s.splits = NewSplitService(db)
	s.links = NewLinkService(db)
	s.clearance = NewClearanceService(db, config.ClearanceConfig{ApprovalBpsTarget: 6667}, notifications, s.metrics)
	s.settlements = NewSettlementService(db, notifications, s.metrics)
	s.payments = NewPaymentServiceWithGateway(db, s.paymentCfg, s.settlements, s.cards)
	s.anchors = NewAnchorService(db)
}

// openFile opens a WAL file database that several connections can share.
func (s *serviceSuite) openFile(path string) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	s.Require().NoError(err)
	return db
}

func (s *serviceSuite) TearDownTest() {
	database.Close(s.db)
}

func (s *serviceSuite) user(name string) *models.User {
	u := &models.User{
		Username: name,
		Email:    name + "@example.com",
		Status:   models.UserStatusActive,
	}
	s.Require().NoError(u.SetPassword("Secret123!"))
	s.Require().NoError(s.db.Create(u).Error)
	return u
}

func (s *serviceSuite) content(owner *models.User, title string) *models.Content {
	c, err := s.splits.CreateContent(s.ctx, owner.ID, &CreateContentRequest{Title: title})
	s.Require().NoError(err)
	s.Require().Len(c.SplitVersions, 1)
	return c
}

type share struct {
	user  *models.User
	email string
	bps   int64
	role  string
}

// lockShares replaces the draft v1 of c with the given shares, has every
// account participant accept, and locks it under manifest.
func (s *serviceSuite) lockShares(owner *models.User, c *models.Content, manifest string, shares ...share) *models.SplitVersion {
	versionID := c.SplitVersions[0].ID
	inputs := make([]ParticipantInput, 0, len(shares))
	for _, sh := range shares {
		in := ParticipantInput{Email: sh.email, Bps: sh.bps, Role: sh.role}
		if sh.user != nil {
			id := sh.user.ID
			in.AccountID = &id
			in.Email = sh.user.Email
		}
		inputs = append(inputs, in)
	}
	_, err := s.splits.UpdateDraftSplit(s.ctx, owner.ID, versionID, &UpdateSplitRequest{Participants: inputs})
	s.Require().NoError(err)

	for _, sh := range shares {
		if sh.user == nil || sh.user.ID == owner.ID {
			continue
		}
		_, err := s.splits.AcceptParticipation(s.ctx, ByAccountID(sh.user.ID), versionID)
		s.Require().NoError(err)
	}

	version, err := s.splits.LockSplit(s.ctx, owner.ID, versionID, &LockSplitRequest{ManifestSha256: manifest})
	s.Require().NoError(err)
	return version
}

func (s *serviceSuite) linkContent(owner *models.User, child, parent *models.Content, requiresApproval bool, upstreamBps int64) *models.ContentLink {
	l, err := s.links.CreateLink(s.ctx, owner.ID, child.ID, &CreateLinkRequest{
		ParentContentID:  parent.ID,
		Relation:         models.RelationRemix,
		UpstreamBps:      upstreamBps,
		RequiresApproval: &requiresApproval,
	})
	s.Require().NoError(err)
	return l
}

func (s *serviceSuite) paidIntent(contentID uuid.UUID, manifest string, buyerID *uuid.UUID, amount int64) *models.PaymentIntent {
	resp, err := s.payments.CreatePaymentIntent(s.ctx, buyerID, &CreatePaymentIntentRequest{
		ContentID:      contentID,
		ManifestSha256: manifest,
		Amount:         amount,
		Rail:           models.PaymentRailManual,
	})
	s.Require().NoError(err)
	return resp.Intent
}

func (s *serviceSuite) count(model interface{}) int64 {
	var n int64
	s.Require().NoError(s.db.Model(model).Count(&n).Error)
	return n
}

// counter reads one labelled series of a service counter.
func (s *serviceSuite) counter(name, label string) float64 {
	families, err := s.metrics.Registry().Gather()
	s.Require().NoError(err)
	for _, family := range families {
		if family.GetName() != "test_"+name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func int64Ptr(v int64) *int64 { return &v }
