package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fraudengine/internal/cases/models"
	"fraudengine/internal/cases/service"
	"fraudengine/internal/cases/store"
	ledgermodels "fraudengine/internal/ledger/models"
	ledgerservice "fraudengine/internal/ledger/service"
	ledgerstore "fraudengine/internal/ledger/store"
	"fraudengine/internal/reversal/adapters/ledgermemory"
	"fraudengine/internal/reversal/ports"
	id "fraudengine/pkg/domain"
	"fraudengine/pkg/requestcontext"
	"fraudengine/pkg/testutil"
)

const callerHeader = "X-Test-Caller"

type HandlerSuite struct {
	suite.Suite
	router   http.Handler
	ledger   *ledgerservice.Service
	external *ledgermemory.Ledger
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ledger = ledgerservice.New(ledgerstore.NewInMemory())
	s.external = ledgermemory.New()
	svc := service.New(store.NewInMemory(), s.external, s.ledger)
	h := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if raw := r.Header.Get(callerHeader); raw != "" {
				ctx = requestcontext.WithCaller(ctx, id.UserID(uuid.MustParse(raw)))
			}
			ctx = requestcontext.WithClientMetadata(ctx, "198.51.100.4", r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	h.Register(r)
	s.router = r
}

func (s *HandlerSuite) do(method, path string, caller id.UserID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	if !caller.IsNil() {
		req.Header.Set(callerHeader, caller.String())
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) transaction() ports.Transaction {
	tokens, err := s.ledger.Issue(context.Background(), ledgerservice.IssueCommand{
		OwnerID:      testutil.TestIDs.Payer,
		CBDCType:     ledgermodels.CBDCTypeUSD,
		Denomination: decimal.NewFromInt(100),
	})
	s.Require().NoError(err)
	tx := testutil.NewTransactionBuilder(tokens[0].ID).Build()
	s.external.Add(tx)
	return tx
}

func (s *HandlerSuite) submit(tx ports.Transaction, caller id.UserID) models.ReportReceipt {
	body := `{"transaction_id":"` + tx.ID.String() + `","case_type":"Phishing","description":"link in a text message"}`
	rec := s.do(http.MethodPost, "/v1/reports", caller, body)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var receipt models.ReportReceipt
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &receipt))
	return receipt
}

func (s *HandlerSuite) TestSubmitReportAndGet() {
	tx := s.transaction()
	receipt := s.submit(tx, testutil.TestIDs.Payer)
	s.Equal(models.StatusOpen, receipt.Status)
	s.Equal(models.PriorityMedium, receipt.Priority)
	s.Equal("72 hours", receipt.EstimatedResolution)
	s.True(receipt.TokenHeld)

	rec := s.do(http.MethodGet, "/v1/cases/"+receipt.CaseID, id.UserID{}, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var view models.CaseView
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &view))
	s.Equal(tx.ID, view.TransactionID)
	s.Equal(models.CaseTypePhishing, view.CaseType)
	s.False(view.Overdue)
	device, ok := view.Evidence[models.EvidenceReporterDevice].(map[string]any)
	s.Require().True(ok)
	s.Equal("198.51.100.0", device["clientNetwork"])
}

func (s *HandlerSuite) TestSubmitReportRejections() {
	tx := s.transaction()

	s.Run("anonymous caller", func() {
		rec := s.do(http.MethodPost, "/v1/reports", id.UserID{}, `{}`)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})
	s.Run("unknown case type", func() {
		body := `{"transaction_id":"` + tx.ID.String() + `","case_type":"chargeback","description":"x"}`
		s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/v1/reports", testutil.TestIDs.Payer, body).Code)
	})
	s.Run("blank description", func() {
		body := `{"transaction_id":"` + tx.ID.String() + `","case_type":"phishing","description":"   "}`
		s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/v1/reports", testutil.TestIDs.Payer, body).Code)
	})
	s.Run("outsider", func() {
		body := `{"transaction_id":"` + tx.ID.String() + `","case_type":"phishing","description":"x"}`
		s.Equal(http.StatusForbidden, s.do(http.MethodPost, "/v1/reports", testutil.TestIDs.Outsider, body).Code)
	})
	s.Run("duplicate report returns the active case", func() {
		first := s.submit(tx, testutil.TestIDs.Payer)
		body := `{"transaction_id":"` + tx.ID.String() + `","case_type":"phishing","description":"again"}`
		rec := s.do(http.MethodPost, "/v1/reports", testutil.TestIDs.Payee, body)
		s.Require().Equal(http.StatusConflict, rec.Code)

		var resp struct {
			Error     string          `json:"error"`
			Retryable bool            `json:"retryable"`
			Details   models.CaseView `json:"details"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.Equal("conflict", resp.Error)
		s.Equal(first.CaseID, resp.Details.ID.String())
	})
}

func (s *HandlerSuite) TestEvidenceAndClose() {
	tx := s.transaction()
	receipt := s.submit(tx, testutil.TestIDs.Payer)
	base := "/v1/cases/" + receipt.CaseID

	rec := s.do(http.MethodPost, base+"/evidence", testutil.TestIDs.Payer, `{"evidence":{"sms":"+15550100"}}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, base+"/evidence", testutil.TestIDs.Payer, `{"evidence":{}}`).Code)
	s.Equal(http.StatusForbidden, s.do(http.MethodPost, base+"/evidence", testutil.TestIDs.Outsider, `{"evidence":{"a":1}}`).Code)

	rec = s.do(http.MethodPost, base+"/close", testutil.TestIDs.Payer, `{"reason":"resolved with merchant"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var closed models.CaseView
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &closed))
	s.Equal(models.StatusClosed, closed.Status)
	s.False(closed.TokenHeld)

	tok, err := s.ledger.Get(context.Background(), tx.TokenID)
	s.Require().NoError(err)
	s.Equal(ledgermodels.StatusActive, tok.Status)

	rec = s.do(http.MethodPost, base+"/close", testutil.TestIDs.Payer, "")
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *HandlerSuite) TestInvalidAndUnknownCaseIDs() {
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/v1/cases/nope", id.UserID{}, "").Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/v1/cases/"+uuid.NewString(), id.UserID{}, "").Code)
}
