package fraud

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prasetyow/freelance_market_be/internal/models"
	"github.com/prasetyow/freelance_market_be/internal/services/notify"
)

type recordingPublisher struct {
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.Event) {
	p.events = append(p.events, ev)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Job{}, &models.Bid{}, &models.Notification{}))
	return db
}

// seedUser creates an account old enough to dodge the young-account signal
// unless a test backdates creation itself.
func seedUser(t *testing.T, db *gorm.DB, email string) models.User {
	t.Helper()
	u := models.User{Name: "U", Email: email, Password: "x", Role: models.RoleFreelancer, IsActive: true}
	require.NoError(t, db.Create(&u).Error)
	require.NoError(t, db.Model(&u).Update("created_at", time.Now().Add(-30*24*time.Hour)).Error)
	return u
}

func seedBids(t *testing.T, db *gorm.DB, freelancerID uuid.UUID, n int, price decimal.Decimal, age time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		b := models.Bid{
			JobID:         uuid.New(),
			FreelancerID:  freelancerID,
			Proposal:      "proposal",
			Price:         price,
			EstimatedTime: models.EstimatedTime{Value: 1, Unit: models.UnitDays},
			Status:        models.BidStatusPending,
		}
		require.NoError(t, db.Create(&b).Error)
		require.NoError(t, db.Model(&b).Update("created_at", time.Now().Add(-age)).Error)
	}
}

func TestCleanUserScoresZero(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil)
	u := seedUser(t, db, "clean@example.com")

	a, err := svc.AnalyzeUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, 0, a.Score)
	require.Equal(t, RiskLow, a.RiskLevel)
	require.False(t, a.Flagged)
}

func TestBidVelocityAloneIsLowRisk(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil)
	u := seedUser(t, db, "busy@example.com")
	seedBids(t, db, u.ID, 11, decimal.NewFromInt(500), time.Hour)

	a, err := svc.AnalyzeUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, scoreBidVelocity, a.Score)
	require.Equal(t, RiskLow, a.RiskLevel)
	require.False(t, a.Flagged)

	var user models.User
	require.NoError(t, db.First(&user, "id = ?", u.ID).Error)
	require.False(t, user.IsFlagged)
}

func TestOldBidsDoNotCountTowardVelocity(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil)
	u := seedUser(t, db, "slow@example.com")
	seedBids(t, db, u.ID, 11, decimal.NewFromInt(500), 48*time.Hour)

	a, err := svc.AnalyzeUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, 0, a.Score)
}

func TestCombinedSignalsFlagUserOnce(t *testing.T) {
	db := openTestDB(t)
	pub := &recordingPublisher{}
	svc := NewService(db, pub)

	admin := models.User{Name: "Admin", Email: "admin@example.com", Password: "x", Role: models.RoleAdmin, IsActive: true}
	require.NoError(t, db.Create(&admin).Error)

	u := seedUser(t, db, "sus@example.com")
	// Shared IP with three other accounts.
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", u.ID).Update("last_login_ip", "10.0.0.9").Error)
	for i := 0; i < 3; i++ {
		other := seedUser(t, db, fmt.Sprintf("mule%d@example.com", i))
		require.NoError(t, db.Model(&models.User{}).Where("id = ?", other.ID).Update("last_login_ip", "10.0.0.9").Error)
	}
	// Lowball spam plus velocity.
	seedBids(t, db, u.ID, 11, decimal.NewFromInt(5), time.Hour)

	ctx := context.Background()
	a, err := svc.AnalyzeUser(ctx, u.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, a.Score, highRiskCutoff)
	require.Equal(t, RiskHigh, a.RiskLevel)
	require.True(t, a.Flagged)

	var user models.User
	require.NoError(t, db.First(&user, "id = ?", u.ID).Error)
	require.True(t, user.IsFlagged)
	require.Contains(t, user.FlagReason, "auto-flagged")
	firstReason := user.FlagReason

	// Admins hear about it exactly once.
	require.Len(t, pub.events, 1)
	require.Equal(t, models.NotifAdminAlert, pub.events[0].Type)
	require.Equal(t, admin.ID, pub.events[0].UserID)

	// A second analysis keeps the flag and does not re-alert.
	a, err = svc.AnalyzeUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, RiskHigh, a.RiskLevel)
	require.True(t, a.Flagged)
	require.Len(t, pub.events, 1)

	require.NoError(t, db.First(&user, "id = ?", u.ID).Error)
	require.Equal(t, firstReason, user.FlagReason)
}

func TestYoungAccountSignal(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil)

	u := models.User{Name: "New", Email: "new@example.com", Password: "x", Role: models.RoleFreelancer, IsActive: true, LoginCount: 25}
	require.NoError(t, db.Create(&u).Error)

	a, err := svc.AnalyzeUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, scoreYoungAccount, a.Score)
	require.Equal(t, RiskLow, a.RiskLevel)
}

func TestFreshAccountModerateVelocityScoresVelocityOnly(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil)

	u := models.User{Name: "New", Email: "eager@example.com", Password: "x", Role: models.RoleFreelancer, IsActive: true}
	require.NoError(t, db.Create(&u).Error)
	seedBids(t, db, u.ID, 11, decimal.NewFromInt(500), time.Hour)

	// 11 bids in a day trips velocity alone; the young-account signal needs
	// more than youngAccountBidLimit.
	a, err := svc.AnalyzeUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, scoreBidVelocity, a.Score)
	require.Equal(t, RiskLow, a.RiskLevel)
	require.False(t, a.Flagged)
}

func TestFreshAccountExtremeVelocityAddsYoungSignal(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil)

	u := models.User{Name: "New", Email: "frantic@example.com", Password: "x", Role: models.RoleFreelancer, IsActive: true}
	require.NoError(t, db.Create(&u).Error)
	seedBids(t, db, u.ID, 16, decimal.NewFromInt(500), time.Hour)

	a, err := svc.AnalyzeUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, scoreBidVelocity+scoreYoungAccount, a.Score)
	require.Equal(t, RiskMedium, a.RiskLevel)
	require.False(t, a.Flagged)
}

func seedJobBid(t *testing.T, db *gorm.DB, jobID, freelancerID uuid.UUID, price decimal.Decimal, timeValue int) models.Bid {
	t.Helper()
	b := models.Bid{
		JobID:         jobID,
		FreelancerID:  freelancerID,
		Proposal:      "proposal",
		Price:         price,
		EstimatedTime: models.EstimatedTime{Value: timeValue, Unit: models.UnitDays},
		Status:        models.BidStatusPending,
	}
	require.NoError(t, db.Create(&b).Error)
	return b
}

func TestAnalyzeBidPatternsMarksIdenticalGroups(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil)
	jobID := uuid.New()

	for i := 0; i < 3; i++ {
		seedJobBid(t, db, jobID, uuid.New(), decimal.NewFromInt(100), 5)
	}
	honest := seedJobBid(t, db, jobID, uuid.New(), decimal.NewFromInt(250), 7)

	analysis, err := svc.AnalyzeBidPatterns(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, analysis.Patterns, 1)
	require.Len(t, analysis.SuspiciousBids, 3)
	require.NotContains(t, analysis.SuspiciousBids, honest.ID)
}

func TestAnalyzeBidPatternsIgnoresSmallGroups(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil)
	jobID := uuid.New()

	// Two identical bids can be coincidence.
	seedJobBid(t, db, jobID, uuid.New(), decimal.NewFromInt(100), 5)
	seedJobBid(t, db, jobID, uuid.New(), decimal.NewFromInt(100), 5)

	analysis, err := svc.AnalyzeBidPatterns(context.Background(), jobID)
	require.NoError(t, err)
	require.Empty(t, analysis.Patterns)
	require.Empty(t, analysis.SuspiciousBids)
}

func TestDetectBidManipulationAlertsAdmins(t *testing.T) {
	db := openTestDB(t)
	pub := &recordingPublisher{}
	svc := NewService(db, pub)

	admin := models.User{Name: "Admin", Email: "mod@example.com", Password: "x", Role: models.RoleAdmin, IsActive: true}
	require.NoError(t, db.Create(&admin).Error)

	jobID := uuid.New()
	bidders := make([]models.User, 3)
	for i := range bidders {
		bidders[i] = seedUser(t, db, fmt.Sprintf("ring%d@example.com", i))
		seedJobBid(t, db, jobID, bidders[i].ID, decimal.NewFromInt(100), 5)
	}

	svc.DetectBidManipulation(context.Background(), jobID, bidders[2].ID)

	require.Len(t, pub.events, 1)
	require.Equal(t, models.NotifAdminAlert, pub.events[0].Type)
	require.Equal(t, admin.ID, pub.events[0].UserID)
}

func TestTriggerManualReview(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil)
	u := seedUser(t, db, "manual@example.com")

	require.NoError(t, svc.TriggerManualReview(context.Background(), u.ID, "chargeback pattern"))

	var user models.User
	require.NoError(t, db.First(&user, "id = ?", u.ID).Error)
	require.True(t, user.IsFlagged)
	require.Contains(t, user.FlagReason, "chargeback pattern")

	flagged, err := svc.FlaggedUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	require.Equal(t, u.ID, flagged[0].ID)
}
