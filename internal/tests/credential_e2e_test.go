package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certifychain/server/internal/model"
)

type idData struct {
	ID                 string                  `json:"id"`
	VerificationStatus model.InstitutionStatus `json:"verificationStatus"`
	Status             model.CredentialStatus  `json:"status"`
	TokenID            *int64                  `json:"tokenId"`
}

type listData[T any] struct {
	Items      []T `json:"items"`
	Pagination struct {
		Total int `json:"total"`
	} `json:"pagination"`
}

type verifyBody struct {
	Success  bool                     `json:"success"`
	Verified bool                     `json:"verified"`
	Result   model.VerificationResult `json:"result"`
	Data     *struct {
		Credential struct {
			StudentName string                 `json:"studentName"`
			Status      model.CredentialStatus `json:"status"`
		} `json:"credential"`
		Institution *struct {
			Name       string `json:"name"`
			IsVerified bool   `json:"isVerified"`
		} `json:"institution"`
		Verification struct {
			VerificationCount int64 `json:"verificationCount"`
		} `json:"verification"`
	} `json:"data"`
}

func decodeVerify(t *testing.T, raw []byte) verifyBody {
	t.Helper()
	var body verifyBody
	require.NoError(t, json.Unmarshal(raw, &body), "body: %s", raw)
	return body
}

// TestCredentialLifecycleE2E drives an institution from registration to
// issuing, verifying and revoking a credential over HTTP.
func TestCredentialLifecycleE2E(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			runCredentialLifecycle(t, newTestServer(t, backend))
		})
	}
}

func runCredentialLifecycle(t *testing.T, s *testServer) {
	const tokenID = 1001
	const documentHash = "QmdocumentHashForBscCompSci2024"

	t.Run("health", func(t *testing.T) {
		status, raw := s.call(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Contains(t, string(raw), `"status":"ok"`)
	})

	registrar := newWallet(t)
	student := newWallet(t)
	var instToken, adminToken, instID, credID string

	t.Run("first wallet login requires a profile", func(t *testing.T) {
		status, raw := s.call(t, http.MethodPost, "/api/auth/wallet/nonce", "", map[string]string{"walletAddress": registrar.address})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		ch := decode[challengeData](t, raw).Data

		login := map[string]string{
			"walletAddress": registrar.address,
			"signature":     registrar.sign(t, ch.Message),
			"nonce":         ch.Nonce,
		}
		status, raw = s.call(t, http.MethodPost, "/api/auth/wallet/verify", "", login)
		assert.Equal(t, http.StatusBadRequest, status, "body: %s", raw)

		login["name"] = "Lagos Polytechnic Registry"
		login["email"] = "registry@lagospoly.test"
		status, raw = s.call(t, http.MethodPost, "/api/auth/wallet/verify", "", login)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		session := decode[sessionData](t, raw).Data
		assert.Equal(t, "bearer", session.TokenType)
		assert.Equal(t, registrar.address, session.User.WalletAddress)
		assert.Equal(t, model.RoleStudent, session.User.Role)
		instToken = session.Token
	})

	t.Run("institution registers and is reviewed", func(t *testing.T) {
		status, raw := s.call(t, http.MethodPost, "/api/institutions/register", instToken, map[string]string{
			"name":               "Lagos Polytechnic",
			"registrationNumber": "RC-10042",
			"institutionType":    "college",
			"country":            "NG",
			"website":            "https://lagospoly.test",
		})
		require.Equal(t, http.StatusCreated, status, "body: %s", raw)
		inst := decode[idData](t, raw).Data
		assert.Equal(t, model.InstitutionPending, inst.VerificationStatus)
		instID = inst.ID

		status, raw = s.call(t, http.MethodGet, "/api/auth/me", instToken, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Contains(t, string(raw), `"role":"institution"`)

		status, raw = s.call(t, http.MethodPost, "/api/credentials", instToken, map[string]string{
			"studentName":    "Amaka Obi",
			"studentId":      "LP/2020/117",
			"studentWallet":  student.address,
			"credentialType": "diploma",
			"courseName":     "Computer Science",
			"issueDate":      "2024-06-30",
		})
		assert.Equal(t, http.StatusForbidden, status, "unverified institutions cannot issue; body: %s", raw)

		status, raw = s.call(t, http.MethodPost, "/api/institutions/"+instID+"/request-verification", instToken, map[string]any{
			"documents": []map[string]string{{"name": "charter.pdf", "ipfsHash": "QmCharter"}},
		})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Equal(t, model.InstitutionUnderReview, decode[idData](t, raw).Data.VerificationStatus)

		status, _ = s.call(t, http.MethodGet, "/api/institutions/pending/list", instToken, nil)
		assert.Equal(t, http.StatusForbidden, status)

		adminToken = s.adminToken(t)
		status, raw = s.call(t, http.MethodGet, "/api/institutions/pending/list", adminToken, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		pending := decode[listData[idData]](t, raw).Data
		require.Len(t, pending.Items, 1)
		assert.Equal(t, instID, pending.Items[0].ID)

		status, raw = s.call(t, http.MethodPost, "/api/institutions/"+instID+"/verify", adminToken, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Equal(t, model.InstitutionVerified, decode[idData](t, raw).Data.VerificationStatus)

		status, raw = s.call(t, http.MethodGet, "/api/institutions", "", nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Len(t, decode[listData[idData]](t, raw).Data.Items, 1)
	})

	t.Run("credential is created and issued", func(t *testing.T) {
		status, raw := s.call(t, http.MethodPost, "/api/credentials", instToken, map[string]string{
			"studentName":    "Amaka Obi",
			"studentId":      "LP/2020/117",
			"studentWallet":  student.address,
			"credentialType": "diploma",
			"courseName":     "Computer Science",
			"issueDate":      "2024-06-30",
			"documentHash":   documentHash,
		})
		require.Equal(t, http.StatusCreated, status, "body: %s", raw)
		created := decode[idData](t, raw).Data
		assert.Equal(t, model.StatusDraft, created.Status)
		credID = created.ID

		status, raw = s.call(t, http.MethodPut, "/api/credentials/"+credID+"/submit", instToken, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Equal(t, model.StatusPending, decode[idData](t, raw).Data.Status)

		status, raw = s.call(t, http.MethodPut, "/api/credentials/"+credID+"/issue", instToken, map[string]any{
			"tokenId":         tokenID,
			"transactionHash": "0x5e1f00d1",
			"blockNumber":     1200345,
		})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		issued := decode[idData](t, raw).Data
		assert.Equal(t, model.StatusIssued, issued.Status)
		require.NotNil(t, issued.TokenID)
		assert.EqualValues(t, tokenID, *issued.TokenID)

		status, raw = s.call(t, http.MethodPut, "/api/credentials/"+credID+"/issue", instToken, map[string]any{
			"tokenId":         tokenID,
			"transactionHash": "0x5e1f00d1",
		})
		assert.Equal(t, http.StatusConflict, status, "body: %s", raw)

		status, raw = s.call(t, http.MethodGet, "/api/institutions/"+instID, "", nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Contains(t, string(raw), `"credentialsIssued":1`)
	})

	t.Run("public verification", func(t *testing.T) {
		status, raw := s.call(t, http.MethodGet, fmt.Sprintf("/api/verify/token/%d?organization=Acme%%20Hiring", tokenID), "", nil,
			"User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0",
			"X-Forwarded-For", "203.0.113.9")
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		body := decodeVerify(t, raw)
		assert.True(t, body.Success)
		assert.True(t, body.Verified)
		assert.Equal(t, model.ResultValid, body.Result)
		require.NotNil(t, body.Data)
		assert.Equal(t, "Amaka Obi", body.Data.Credential.StudentName)
		require.NotNil(t, body.Data.Institution)
		assert.Equal(t, "Lagos Polytechnic", body.Data.Institution.Name)
		assert.True(t, body.Data.Institution.IsVerified)
		assert.EqualValues(t, 1, body.Data.Verification.VerificationCount)

		status, raw = s.call(t, http.MethodGet, "/api/verify/token/9999", "", nil)
		assert.Equal(t, http.StatusNotFound, status)
		missing := decodeVerify(t, raw)
		assert.False(t, missing.Success)
		assert.False(t, missing.Verified)
		assert.Equal(t, model.ResultNotFound, missing.Result)
		assert.Nil(t, missing.Data)
		assert.Contains(t, string(raw), `"data":null`)

		status, raw = s.call(t, http.MethodGet, "/api/verify/hash/"+documentHash, instToken, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.EqualValues(t, 2, decodeVerify(t, raw).Data.Verification.VerificationCount)

		status, raw = s.call(t, http.MethodGet, "/api/verify/token/abc", "", nil)
		assert.Equal(t, http.StatusBadRequest, status, "body: %s", raw)
	})

	t.Run("batch does not touch the audit log", func(t *testing.T) {
		status, raw := s.call(t, http.MethodPost, "/api/verify/batch", "", map[string]any{
			"identifiers": []any{tokenID, 9999, "nonexistent"},
		})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		type batchData struct {
			Results []struct {
				Identifier      string                   `json:"identifier"`
				Verified        bool                     `json:"verified"`
				Result          model.VerificationResult `json:"result"`
				InstitutionName string                   `json:"institutionName"`
			} `json:"results"`
			Summary struct {
				Total    int `json:"total"`
				Verified int `json:"verified"`
				Failed   int `json:"failed"`
			} `json:"summary"`
		}
		data := decode[batchData](t, raw).Data
		require.Len(t, data.Results, 3)
		assert.True(t, data.Results[0].Verified)
		assert.Equal(t, "Lagos Polytechnic", data.Results[0].InstitutionName)
		assert.Equal(t, model.ResultNotFound, data.Results[1].Result)
		assert.Equal(t, model.ResultNotFound, data.Results[2].Result)
		assert.Equal(t, 3, data.Summary.Total)
		assert.Equal(t, 1, data.Summary.Verified)
		assert.Equal(t, 2, data.Summary.Failed)

		ids := make([]int, 51)
		for i := range ids {
			ids[i] = i + 1
		}
		status, _ = s.call(t, http.MethodPost, "/api/verify/batch", "", map[string]any{"identifiers": ids})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("history and stats", func(t *testing.T) {
		status, raw := s.call(t, http.MethodGet, fmt.Sprintf("/api/verify/history/%d", tokenID), "", nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		type entry struct {
			Result         model.VerificationResult `json:"result"`
			Organization   string                   `json:"organization"`
			VerifierWallet string                   `json:"verifierWallet"`
		}
		history := decode[listData[entry]](t, raw).Data
		require.Len(t, history.Items, 2)
		assert.Equal(t, registrar.address, history.Items[0].VerifierWallet, "newest first")
		assert.Equal(t, "Acme Hiring", history.Items[1].Organization)
		assert.NotContains(t, string(raw), "203.0.113.9")
		assert.NotContains(t, string(raw), "ipAddress")

		status, raw = s.call(t, http.MethodGet, "/api/verify/stats/overview", "", nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		type overview struct {
			Total  int64 `json:"totalVerifications"`
			Today  int64 `json:"todayVerifications"`
			Weekly []struct {
				Date  string `json:"date"`
				Count int64  `json:"count"`
			} `json:"weeklyStats"`
		}
		ov := decode[overview](t, raw).Data
		assert.EqualValues(t, 3, ov.Total, "token, unknown token and hash lookups are logged")
		assert.EqualValues(t, 3, ov.Today)
		require.Len(t, ov.Weekly, 7)
		assert.EqualValues(t, 3, ov.Weekly[6].Count)

		status, raw = s.call(t, http.MethodGet, "/api/credentials/stats", instToken, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Contains(t, string(raw), `"issued":1`)
	})

	t.Run("revocation", func(t *testing.T) {
		status, raw := s.call(t, http.MethodPut, "/api/credentials/"+credID+"/revoke", adminToken, map[string]string{"reason": "records error"})
		assert.Equal(t, http.StatusForbidden, status, "only the issuing institution revokes; body: %s", raw)

		status, raw = s.call(t, http.MethodPut, "/api/credentials/"+credID+"/revoke", instToken, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, status, "body: %s", raw)

		status, raw = s.call(t, http.MethodPut, "/api/credentials/"+credID+"/revoke", instToken, map[string]string{"reason": "academic misconduct"})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Equal(t, model.StatusRevoked, decode[idData](t, raw).Data.Status)

		status, raw = s.call(t, http.MethodGet, fmt.Sprintf("/api/verify/token/%d", tokenID), "", nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		body := decodeVerify(t, raw)
		assert.False(t, body.Verified)
		assert.Equal(t, model.ResultRevoked, body.Result)

		status, raw = s.call(t, http.MethodGet, "/api/credentials/student/"+student.address, "", nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Len(t, decode[listData[idData]](t, raw).Data.Items, 1)
	})

	t.Run("logout revokes the session", func(t *testing.T) {
		status, raw := s.call(t, http.MethodPost, "/api/auth/logout", instToken, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)

		status, _ = s.call(t, http.MethodGet, "/api/auth/me", instToken, nil)
		assert.Equal(t, http.StatusUnauthorized, status)

		status, _ = s.call(t, http.MethodGet, "/api/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("metrics", func(t *testing.T) {
		status, raw := s.call(t, http.MethodGet, "/metrics", "", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Contains(t, string(raw), `certifychain_verifications_total{result="valid"} 2`)
		assert.Contains(t, string(raw), "certifychain_batch_verifications_total 1")
	})
}
