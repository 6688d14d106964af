package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cimcon/p2p/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{shared.NewError(shared.KindValidation, "invalid_batch_format", "bad batch"), http.StatusBadRequest, "invalid_batch_format"},
		{fmt.Errorf("approve: %w", shared.NewError(shared.KindState, "invalid_state", "nope")), http.StatusConflict, "invalid_state"},
		{shared.ErrNotFound, http.StatusNotFound, "not_found"},
		{shared.NewError(shared.KindInvariant, "negative_stock", "too much"), http.StatusUnprocessableEntity, "negative_stock"},
		{shared.NewError(shared.KindIntegration, "pdf_render_failed", "gotenberg down"), http.StatusBadGateway, "pdf_render_failed"},
		{shared.ErrForbidden, http.StatusForbidden, "forbidden"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, nil, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		var body ProblemCode
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.code, body.Code)
	}
}
