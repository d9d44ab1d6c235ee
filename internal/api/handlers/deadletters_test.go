package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/types"
)

func TestDeadLetters_List(t *testing.T) {
	api := newTestAPI(t)
	api.dls.items = []*types.DeadLetter{{ID: "dl_1", JobID: "job_1", Reason: types.DeadLetterExhausted, Attempts: 5}}

	rec := api.admin(t, http.MethodGet, "/v1/dead-letters?application_id=acme&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "acme", api.dls.gotAppID)
	assert.Equal(t, 10, api.dls.gotLimit)
	assert.Contains(t, rec.Body.String(), `"reason":"exhausted"`)
}

func TestDeadLetters_Defaults(t *testing.T) {
	api := newTestAPI(t)
	rec := api.admin(t, http.MethodGet, "/v1/dead-letters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", api.dls.gotAppID)
	assert.Equal(t, defaultDeadLetterLimit, api.dls.gotLimit)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestDeadLetters_BadLimit(t *testing.T) {
	api := newTestAPI(t)
	for _, q := range []string{"limit=0", "limit=abc", "limit=501"} {
		rec := api.admin(t, http.MethodGet, "/v1/dead-letters?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestDeadLetters_RequireAdmin(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/v1/dead-letters", "hk_live_tenant", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
