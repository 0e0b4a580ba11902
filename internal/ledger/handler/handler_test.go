package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"fraudengine/internal/ledger/models"
	"fraudengine/internal/ledger/service"
	"fraudengine/internal/ledger/store"
	id "fraudengine/pkg/domain"
	"fraudengine/pkg/requestcontext"
)

type HandlerSuite struct {
	suite.Suite
	router   http.Handler
	operator id.UserID
	caller   id.UserID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.operator = id.UserID(uuid.New())
	s.caller = s.operator
	operators := func(_ context.Context, userID id.UserID) (bool, error) {
		return userID == s.operator, nil
	}

	svc := service.New(store.NewInMemory())
	h := New(svc, operators, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

func (s *HandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(requestcontext.WithCaller(req.Context(), s.caller))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) issue(quantity int) []*models.Token {
	body := `{"owner_id":"` + uuid.NewString() + `","cbdc_type":"usd-cbdc","denomination":"25.00","quantity":` + strconv.Itoa(quantity) + `}`
	rec := s.do(http.MethodPost, "/v1/tokens", body)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp IssueResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Require().Len(resp.Tokens, quantity)
	return resp.Tokens
}

func (s *HandlerSuite) TestIssueAndGet() {
	tokens := s.issue(2)

	rec := s.do(http.MethodGet, "/v1/tokens/"+tokens[0].ID.String(), "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var got models.Token
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	s.Equal(models.StatusActive, got.Status)
	s.Equal(models.CBDCType("USD-CBDC"), got.CBDCType)
}

func (s *HandlerSuite) TestIssueValidation() {
	s.Run("unknown currency", func() {
		rec := s.do(http.MethodPost, "/v1/tokens", `{"owner_id":"`+uuid.NewString()+`","cbdc_type":"JPY-CBDC","denomination":"1"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
	s.Run("quantity above limit", func() {
		rec := s.do(http.MethodPost, "/v1/tokens", `{"owner_id":"`+uuid.NewString()+`","cbdc_type":"EUR-CBDC","denomination":"1","quantity":1001}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
	s.Run("non numeric denomination", func() {
		rec := s.do(http.MethodPost, "/v1/tokens", `{"owner_id":"`+uuid.NewString()+`","cbdc_type":"EUR-CBDC","denomination":"ten"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

// Invariant: freezing a frozen token is rejected with the unchanged token in details.
func (s *HandlerSuite) TestFreezeTwiceReturnsConflictWithCurrentState() {
	tok := s.issue(1)[0]

	rec := s.do(http.MethodPost, "/v1/tokens/"+tok.ID.String()+"/freeze", "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/v1/tokens/"+tok.ID.String()+"/freeze", `{"reason":"again"}`)
	s.Require().Equal(http.StatusConflict, rec.Code)

	var body struct {
		Error   string       `json:"error"`
		Details models.Token `json:"details"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("invalid_state_transition", body.Error)
	s.Equal(models.StatusFrozen, body.Details.Status)
}

func (s *HandlerSuite) TestUnfreezeAndAuditTrail() {
	tok := s.issue(1)[0]
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/v1/tokens/"+tok.ID.String()+"/freeze", `{"reason":"hold"}`).Code)
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/v1/tokens/"+tok.ID.String()+"/unfreeze", "").Code)

	rec := s.do(http.MethodGet, "/v1/tokens/"+tok.ID.String()+"/audit", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var trail AuditTrailResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &trail))
	s.Require().Len(trail.Entries, 3)
	s.Equal(models.OperationCreate, trail.Entries[0].Operation)
	s.Equal(models.OperationFreeze, trail.Entries[1].Operation)
	s.Equal(models.OperationUnfreeze, trail.Entries[2].Operation)

	rec = s.do(http.MethodGet, "/v1/tokens/"+tok.ID.String()+"/audit/verify", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var verification models.ChainVerification
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &verification))
	s.True(verification.Valid)
	s.True(verification.HeadMatch)
}

// Invariant: one offender rejects the whole batch and lists itself in details.
func (s *HandlerSuite) TestBulkStatusAllOrNothing() {
	tokens := s.issue(3)
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/v1/tokens/"+tokens[1].ID.String()+"/freeze", "").Code)

	ids := []string{tokens[0].ID.String(), tokens[1].ID.String(), tokens[2].ID.String()}
	body := `{"token_ids":["` + strings.Join(ids, `","`) + `"],"target_status":"frozen"}`

	rec := s.do(http.MethodPost, "/v1/tokens/bulk-status", body)
	s.Require().Equal(http.StatusConflict, rec.Code)
	var rejection struct {
		Details models.BulkRejection `json:"details"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &rejection))
	s.Require().Len(rejection.Details.Offenders, 1)
	s.Equal(tokens[1].ID, rejection.Details.Offenders[0].TokenID)

	rec = s.do(http.MethodGet, "/v1/tokens/"+tokens[0].ID.String(), "")
	var untouched models.Token
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &untouched))
	s.Equal(models.StatusActive, untouched.Status)
}

func (s *HandlerSuite) TestBulkStatusRejectsDuplicates() {
	tok := s.issue(1)[0].ID.String()
	rec := s.do(http.MethodPost, "/v1/tokens/bulk-status", `{"token_ids":["`+tok+`","`+tok+`"],"target_status":"frozen"}`)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestTransferOwnership() {
	tok := s.issue(1)[0]
	newOwner := uuid.NewString()

	rec := s.do(http.MethodPost, "/v1/tokens/"+tok.ID.String()+"/transfer", `{"new_owner_id":"`+newOwner+`"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var got models.Token
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	s.Equal(newOwner, got.OwnerID.String())
}

// Direct status and ownership changes are reserved to operators and
// supervisors; reads and issuance stay open to any caller.
func (s *HandlerSuite) TestStatusChangesRequireOperator() {
	tokens := s.issue(2)
	s.caller = id.UserID(uuid.New())

	for name, req := range map[string]struct{ path, body string }{
		"freeze":      {"/v1/tokens/" + tokens[0].ID.String() + "/freeze", ""},
		"unfreeze":    {"/v1/tokens/" + tokens[0].ID.String() + "/unfreeze", ""},
		"transfer":    {"/v1/tokens/" + tokens[0].ID.String() + "/transfer", `{"new_owner_id":"` + uuid.NewString() + `"}`},
		"bulk-status": {"/v1/tokens/bulk-status", `{"token_ids":["` + tokens[0].ID.String() + `","` + tokens[1].ID.String() + `"],"target_status":"frozen"}`},
	} {
		s.Run(name, func() {
			rec := s.do(http.MethodPost, req.path, req.body)
			s.Equal(http.StatusForbidden, rec.Code, rec.Body.String())
		})
	}

	for _, tok := range tokens {
		rec := s.do(http.MethodGet, "/v1/tokens/"+tok.ID.String(), "")
		s.Require().Equal(http.StatusOK, rec.Code)
		var got models.Token
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
		s.Equal(models.StatusActive, got.Status, "rejected callers change nothing")
	}
	s.issue(1)
}

func (s *HandlerSuite) TestInvalidAndUnknownTokenIDs() {
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/v1/tokens/not-a-uuid", "").Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/v1/tokens/"+uuid.NewString(), "").Code)
}
