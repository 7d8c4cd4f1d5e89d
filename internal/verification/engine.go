// Package verification is the public read path for credentials. Every single
// verification is written to the audit log and counted on the credential.
package verification

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/log"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
)

// Options configures an Engine.
type Options struct {
	Metrics *Metrics
	// Location defines calendar days for statistics. Defaults to UTC.
	Location *time.Location
	Now      func() time.Time
}

// Engine resolves identifiers and computes verification results.
type Engine struct {
	credentials  store.CredentialStore
	institutions store.InstitutionStore
	logs         store.VerificationLog
	metrics      *Metrics
	loc          *time.Location
	now          func() time.Time
	logger       *logrus.Entry
}

// NewEngine creates a new verification engine
func NewEngine(credentials store.CredentialStore, institutions store.InstitutionStore, logs store.VerificationLog, opts Options) *Engine {
	e := &Engine{
		credentials:  credentials,
		institutions: institutions,
		logs:         logs,
		metrics:      opts.Metrics,
		loc:          opts.Location,
		now:          opts.Now,
		logger:       log.Logger("verification"),
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// Outcome is the result of verifying one identifier. Credential and
// Institution are nil when nothing matched.
type Outcome struct {
	Identifier  model.Identifier
	Result      model.VerificationResult
	Credential  *model.Credential
	Institution *model.Institution
}

// Verified reports whether the credential is currently valid.
func (o Outcome) Verified() bool {
	return o.Result == model.ResultValid
}

// Evaluate computes the result for a resolved credential. Precedence is
// not_found, revoked, expired, invalid, valid.
func Evaluate(c *model.Credential, now time.Time) model.VerificationResult {
	switch {
	case c == nil:
		return model.ResultNotFound
	case c.Status == model.StatusRevoked:
		return model.ResultRevoked
	case c.IsExpired(now):
		return model.ResultExpired
	case c.Status != model.StatusIssued:
		return model.ResultInvalid
	}
	return model.ResultValid
}

// resolve looks the identifier up by its declared kind. A miss is (nil, nil).
func (e *Engine) resolve(ctx context.Context, id model.Identifier) (*model.Credential, error) {
	var (
		c   model.Credential
		err error
	)
	switch id.Kind {
	case model.KindTokenID:
		tokenID, perr := id.TokenID()
		if perr != nil {
			return nil, apperr.Validation(apperr.Field("identifier", perr.Error()))
		}
		c, err = e.credentials.GetCredentialByTokenID(ctx, tokenID)
	default:
		c, err = e.credentials.GetCredentialByHash(ctx, id.Value)
	}
	if apperr.HasCode(err, apperr.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Verify resolves id, appends one audit entry and, when a credential matched,
// increments its verification counter. The entry is written for every
// outcome including not_found.
func (e *Engine) Verify(ctx context.Context, id model.Identifier, vc model.VerifierContext) (Outcome, error) {
	if err := id.Validate(); err != nil {
		return Outcome{}, apperr.Validation(apperr.Field("identifier", err.Error()))
	}
	cred, err := e.resolve(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	now := e.now()
	out := Outcome{Identifier: id, Result: Evaluate(cred, now)}

	entry := model.VerificationLogEntry{
		Identifier:     id.Value,
		VerifierID:     vc.VerifierID,
		VerifierWallet: model.NormalizeWallet(vc.VerifierWallet),
		Organization:   vc.Organization,
		Purpose:        vc.Purpose,
		Result:         out.Result,
		IPAddress:      vc.IPAddress,
		UserAgent:      vc.UserAgent,
		CreatedAt:      now,
	}
	if id.Kind == model.KindTokenID {
		tokenID, _ := id.TokenID()
		entry.TokenID = &tokenID
	}
	if cred != nil {
		credID := cred.ID
		entry.CredentialID = &credID
		entry.TokenID = cred.TokenID
	}
	if _, err := e.logs.AppendVerification(ctx, entry); err != nil {
		return Outcome{}, err
	}

	if cred != nil {
		counted, err := e.credentials.RecordVerification(ctx, cred.ID, now)
		if err != nil {
			return Outcome{}, err
		}
		counted.Status = counted.EffectiveStatus(now)
		out.Credential = &counted
		out.Institution = e.institution(ctx, counted)
	}

	e.metrics.Verifications.WithLabelValues(string(out.Result)).Inc()
	e.logger.WithFields(logrus.Fields{
		"identifier": id.Value,
		"kind":       id.Kind,
		"result":     out.Result,
	}).Debug("Credential verified")
	return out, nil
}

// institution loads the issuer for the public projection. A missing
// institution does not fail the verification.
func (e *Engine) institution(ctx context.Context, c model.Credential) *model.Institution {
	inst, err := e.institutions.GetInstitution(ctx, c.InstitutionID)
	if err != nil {
		if !apperr.HasCode(err, apperr.CodeNotFound) {
			e.logger.WithError(err).WithField("institution_id", c.InstitutionID).Warn("Failed to load issuing institution")
		}
		return nil
	}
	return &inst
}
