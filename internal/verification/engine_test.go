package verification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
	"github.com/certifychain/server/internal/store/filestore"
	"github.com/certifychain/server/internal/store/storetest"
)

const firefox = "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	engine  *Engine
	store   *filestore.Store
	metrics *Metrics
	clock   *clock
	inst    model.Institution
}

func newFixture(t *testing.T, loc *time.Location) *fixture {
	t.Helper()
	st, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	inst, err := st.CreateInstitution(context.Background(), model.Institution{
		IdentityID:         uuid.New(),
		WalletAddress:      storetest.Wallet(0xb),
		Name:               "Institution B",
		RegistrationNumber: "REG-B",
		Type:               model.InstitutionUniversity,
		Country:            "GH",
		VerificationStatus: model.InstitutionVerified,
		IsActive:           true,
	})
	require.NoError(t, err)

	clk := &clock{now: time.Date(2024, 9, 10, 15, 30, 0, 0, time.UTC)}
	m := NewMetrics(prometheus.NewRegistry())
	return &fixture{
		engine:  NewEngine(st, st, st, Options{Metrics: m, Location: loc, Now: clk.Now}),
		store:   st,
		metrics: m,
		clock:   clk,
		inst:    inst,
	}
}

// credential stores a credential directly with the given state.
func (f *fixture) credential(t *testing.T, tokenID int64, status model.CredentialStatus, expiry *time.Time, docHash string) model.Credential {
	t.Helper()
	c := model.Credential{
		InstitutionID:     f.inst.ID,
		InstitutionWallet: f.inst.WalletAddress,
		StudentWallet:     storetest.Wallet(0xaaa),
		CredentialType:    model.TypeDiploma,
		CourseName:        "Diploma in Nursing",
		StudentName:       "Kofi Mensah",
		StudentID:         "N-17",
		IssueDate:         time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC),
		ExpiryDate:        expiry,
		DocumentHash:      docHash,
		Status:            status,
	}
	if tokenID > 0 {
		c.TokenID = &tokenID
	}
	created, err := f.store.CreateCredential(context.Background(), c, store.CreateOptions{})
	require.NoError(t, err)
	return created
}

func past() *time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestEvaluatePrecedence(t *testing.T) {
	now := time.Date(2024, 9, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		cred *model.Credential
		want model.VerificationResult
	}{
		{"missing", nil, model.ResultNotFound},
		{"revoked and expired", &model.Credential{Status: model.StatusRevoked, ExpiryDate: past()}, model.ResultRevoked},
		{"issued and expired", &model.Credential{Status: model.StatusIssued, ExpiryDate: past()}, model.ResultExpired},
		{"draft and expired", &model.Credential{Status: model.StatusDraft, ExpiryDate: past()}, model.ResultExpired},
		{"draft", &model.Credential{Status: model.StatusDraft}, model.ResultInvalid},
		{"pending", &model.Credential{Status: model.StatusPending}, model.ResultInvalid},
		{"issued", &model.Credential{Status: model.StatusIssued}, model.ResultValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cred, now))
		})
	}
}

func TestVerifyUnknownIdentifierWritesOneEntry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	out, err := f.engine.Verify(ctx, model.TokenIdentifier(404), model.VerifierContext{IPAddress: "203.0.113.9"})
	require.NoError(t, err)
	assert.Equal(t, model.ResultNotFound, out.Result)
	assert.False(t, out.Verified())
	assert.Nil(t, out.Credential)

	total, err := f.store.CountVerifications(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	entries, _, err := f.store.ListVerifications(ctx, 404, model.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].CredentialID)
	assert.Equal(t, model.ResultNotFound, entries[0].Result)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Verifications.WithLabelValues("not_found")))

	out, err = f.engine.Verify(ctx, model.HashIdentifier("QmMissing"), model.VerifierContext{})
	require.NoError(t, err)
	assert.Equal(t, model.ResultNotFound, out.Result)
	total, err = f.store.CountVerifications(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestVerifyValidCountsAndAttachesInstitution(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cred := f.credential(t, 3, model.StatusIssued, nil, "QmDoc3")
	verifier := uuid.New()

	out, err := f.engine.Verify(ctx, model.HashIdentifier("QmDoc3"), model.VerifierContext{
		VerifierID:     &verifier,
		VerifierWallet: "0x00000000000000000000000000000000000000CC",
		Organization:   "Acme Hiring",
		Purpose:        "employment",
		IPAddress:      "198.51.100.4",
		UserAgent:      firefox,
	})
	require.NoError(t, err)
	assert.True(t, out.Verified())
	require.NotNil(t, out.Credential)
	assert.Equal(t, cred.ID, out.Credential.ID)
	assert.Equal(t, int64(1), out.Credential.VerificationCount)
	require.NotNil(t, out.Credential.LastVerifiedAt)
	require.NotNil(t, out.Institution)
	assert.Equal(t, "Institution B", out.Institution.Name)

	f.clock.Set(f.clock.Now().Add(time.Minute))
	out, err = f.engine.Verify(ctx, model.TokenIdentifier(3), model.VerifierContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Credential.VerificationCount)

	history, info, err := f.engine.History(ctx, 3, model.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, info.Total)
	require.Len(t, history, 2)
	assert.Empty(t, history[0].Organization, "newest entry first")
	assert.Equal(t, "Acme Hiring", history[1].Organization)
	assert.Equal(t, "0x00000000000000000000000000000000000000cc", history[1].VerifierWallet)
	assert.Contains(t, history[1].Client, "Firefox")
}

func TestVerifyRevokedBeatsExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.credential(t, 1, model.StatusRevoked, past(), "")

	out, err := f.engine.Verify(ctx, model.TokenIdentifier(1), model.VerifierContext{})
	require.NoError(t, err)
	assert.Equal(t, model.ResultRevoked, out.Result)
	assert.Equal(t, int64(1), out.Credential.VerificationCount, "revoked lookups are still counted")
}

func TestVerifyReportsExpiredStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.credential(t, 2, model.StatusIssued, past(), "")

	out, err := f.engine.Verify(context.Background(), model.TokenIdentifier(2), model.VerifierContext{})
	require.NoError(t, err)
	assert.Equal(t, model.ResultExpired, out.Result)
	assert.Equal(t, model.StatusExpired, out.Credential.Status)
}

func TestVerifyRejectsMalformedIdentifier(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, id := range []model.Identifier{
		{Kind: model.KindTokenID, Value: "abc"},
		{Kind: model.KindTokenID, Value: "-4"},
		{Kind: model.KindHash, Value: " "},
		{Kind: "serial", Value: "1"},
	} {
		_, err := f.engine.Verify(ctx, id, model.VerifierContext{})
		assert.True(t, apperr.HasCode(err, apperr.CodeValidation), "identifier %+v", id)
	}
	total, err := f.store.CountVerifications(ctx, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestVerifyBatchSummary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	valid := f.credential(t, 1, model.StatusIssued, nil, "")
	f.credential(t, 2, model.StatusIssued, past(), "")

	res, err := f.engine.VerifyBatch(ctx, []model.Identifier{
		model.TokenIdentifier(1),
		model.HashIdentifier("nonexistent"),
		model.TokenIdentifier(2),
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 3, Verified: 1, Failed: 2}, res.Summary)
	require.Len(t, res.Results, 3)
	assert.Equal(t, model.ResultValid, res.Results[0].Result)
	assert.Equal(t, model.ResultNotFound, res.Results[1].Result)
	assert.Equal(t, model.ResultExpired, res.Results[2].Result)
	assert.Equal(t, "nonexistent", res.Results[1].Identifier.Value)

	total, err := f.store.CountVerifications(ctx, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, total, "batch verification is not logged")
	stored, err := f.store.GetCredential(ctx, valid.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.VerificationCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BatchVerifications))
}

func TestVerifyBatchLimits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.VerifyBatch(ctx, nil)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	tooMany := make([]model.Identifier, MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = model.TokenIdentifier(int64(i + 1))
	}
	_, err = f.engine.VerifyBatch(ctx, tooMany)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	res, err := f.engine.VerifyBatch(ctx, tooMany[:MaxBatchSize])
	require.NoError(t, err)
	assert.Equal(t, MaxBatchSize, res.Summary.Failed)

	_, err = f.engine.VerifyBatch(ctx, []model.Identifier{model.TokenIdentifier(1), {Kind: model.KindTokenID, Value: "x"}})
	require.True(t, apperr.HasCode(err, apperr.CodeValidation))
	fields := apperr.FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Equal(t, "identifiers[1]", fields[0].Field)
}

func TestHistoryRejectsBadToken(t *testing.T) {
	f := newFixture(t, nil)
	_, _, err := f.engine.History(context.Background(), 0, model.Page{})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestStatsOverview(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	f := newFixture(t, loc)
	ctx := context.Background()
	f.credential(t, 1, model.StatusIssued, nil, "")

	verifyAt := func(at time.Time, id int64) {
		f.clock.Set(at)
		_, err := f.engine.Verify(ctx, model.TokenIdentifier(id), model.VerifierContext{})
		require.NoError(t, err)
	}
	// 2024-09-10 in UTC+3 starts at 2024-09-09T21:00Z
	verifyAt(time.Date(2024, 8, 20, 12, 0, 0, 0, time.UTC), 1) // outside the window
	verifyAt(time.Date(2024, 9, 5, 10, 0, 0, 0, time.UTC), 1)
	verifyAt(time.Date(2024, 9, 5, 11, 0, 0, 0, time.UTC), 99)
	verifyAt(time.Date(2024, 9, 9, 20, 59, 0, 0, time.UTC), 1) // late on the 9th locally
	verifyAt(time.Date(2024, 9, 9, 21, 0, 0, 0, time.UTC), 1)  // first minute of the 10th
	f.clock.Set(time.Date(2024, 9, 10, 8, 0, 0, 0, time.UTC))

	overview, err := f.engine.StatsOverview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, overview.Total)
	assert.Equal(t, 1, overview.Today)
	require.Len(t, overview.Daily, histogramDays)
	assert.Equal(t, "2024-09-04", overview.Daily[0].Date)
	assert.Equal(t, "2024-09-10", overview.Daily[6].Date)

	byDate := map[string]model.DailyVerificationStat{}
	for _, d := range overview.Daily {
		byDate[d.Date] = d
	}
	assert.Equal(t, model.DailyVerificationStat{Date: "2024-09-05", Count: 2, ValidCount: 1}, byDate["2024-09-05"])
	assert.Equal(t, model.DailyVerificationStat{Date: "2024-09-09", Count: 1, ValidCount: 1}, byDate["2024-09-09"])
	assert.Equal(t, model.DailyVerificationStat{Date: "2024-09-10", Count: 1, ValidCount: 1}, byDate["2024-09-10"])
	assert.Equal(t, model.DailyVerificationStat{Date: "2024-09-06"}, byDate["2024-09-06"])
}

func TestDescribeClient(t *testing.T) {
	assert.Empty(t, describeClient(""))
	assert.Contains(t, describeClient(firefox), "Firefox on Linux")
}
