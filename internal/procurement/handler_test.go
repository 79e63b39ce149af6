package procurement

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procurement/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, f.svc).MountRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpx.ActorHeader, "7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerOrderFlow(t *testing.T) {
	f := newFixture()
	h := newTestRouter(f)

	rec := doJSON(t, h, http.MethodPost, "/requisitions", `{"order_type":"items","lines":[{"ref":"item:1","quantity":"3","unit_price":"10"},{"ref":"item:2","quantity":2,"unit_price":20}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var req Requisition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))

	for _, action := range []string{"submit", "approve"} {
		rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/requisitions/%d/%s", req.ID, action), "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/requisitions/%d/approvals", req.ID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var history struct {
		Data []shared.ApprovalLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Data, 2)
	assert.Equal(t, shared.ApprovalApprove, history.Data[1].Action)

	rec = doJSON(t, h, http.MethodGet, "/orders/404/approvals", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/orders", fmt.Sprintf(`{"requisition_ids":[%d]}`, req.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var po orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &po))
	requireDecimal(t, "70", po.TotalCost)
	assert.False(t, po.Merged)

	line := lineFor(t, po.PurchaseOrder, itemA)
	rec = doJSON(t, h, http.MethodPut, fmt.Sprintf("/orders/%d/lines/%d/quantity", po.ID, line.ID), `{"quantity":"2"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "validation", problem.Type)
	assert.Equal(t, "quantity", problem.Field)

	rec = doJSON(t, h, http.MethodPut, fmt.Sprintf("/orders/%d/lines/%d/quantity", po.ID, line.ID), fmt.Sprintf(`{"quantity":"5","expected_version":%d}`, po.Version))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &po))
	requireDecimal(t, "90", po.TotalCost)

	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/orders/%d/transitions", po.ID), `{"to":"received"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "state", problem.Type)

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/orders/%d/supplier-rankings", po.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"coverage":1`)
}

func TestHandlerRejectsMalformedInput(t *testing.T) {
	h := newTestRouter(newFixture())

	rec := doJSON(t, h, http.MethodPost, "/orders", `{"requisition_ids":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/orders", `{"bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/orders/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/orders/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/supplier-rankings", `{"order_type":"items","refs":["widget:1"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
