package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixpower/adapters/mixed"
	"mixpower/app"
	"mixpower/domain/power"
	"mixpower/internal/testkit"
)

const powerBody = `{
  "design": {
    "subject_n": 4,
    "item_n": 6,
    "factors": [
      {"name": "group", "population": "subject-between", "levels": ["control", "treatment"]},
      {"name": "condition", "population": "within", "levels": ["easy", "hard"]}
    ]
  },
  "model": {
    "formula": "y ~ group * condition + (1 | subject_id) + (1 | item_id)",
    "contrasts": {"group": "deviation", "condition": "deviation"}
  },
  "simulation": {"nsims": 5, "beta": [0, 0.25, 0.25, 0], "sigma": 2, "theta": [1, 1], "alpha": %s, "seed": 9}
  %s
}`

func bodyString(alpha, extra string) string {
	b := strings.Replace(powerBody, "%s", alpha, 1)
	return strings.Replace(b, "%s", extra, 1)
}

func body(alpha, extra string) *strings.Reader {
	return strings.NewReader(bodyString(alpha, extra))
}

func newTestServer(withRepo bool) *Server {
	var opts []app.ServiceOption
	if withRepo {
		opts = append(opts, app.WithRepository(testkit.NewInMemoryPowerRepository()))
	}
	svc := app.NewPowerService(mixed.NewAdapter(mixed.Options{}, nil), testkit.RNGAdapter(), nil, opts...)
	return NewServer(svc, Options{Workers: 2, SweepConcurrency: 2}, nil)
}

func do(t *testing.T, s *Server, method, path string, payload *strings.Reader) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if payload == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, payload)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(false), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPowerThenGetRun(t *testing.T) {
	s := newTestServer(true)

	rec := do(t, s, http.MethodPost, "/api/power", body("0.05", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 4)
	assert.Equal(t, "(Intercept)", resp.Records[0].CoefName)
	assert.NotEmpty(t, resp.RunID)

	rec = do(t, s, http.MethodGet, "/api/runs/"+resp.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stored []power.PowerRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Len(t, stored, 4)

	rec = do(t, s, http.MethodGet, "/api/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPowerHTMLReport(t *testing.T) {
	rec := do(t, newTestServer(false), http.MethodPost, "/api/power?format=html", body("0.05", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<table>")
}

func TestCallerErrorsAreBadRequests(t *testing.T) {
	s := newTestServer(false)

	tests := map[string]*strings.Reader{
		"alpha out of range": body("1.5", ""),
		"malformed body":     strings.NewReader(`{"design": [`),
		"pool file":          strings.NewReader(strings.Replace(bodyString("0.05", ""), `"levels": ["easy", "hard"]}`, `"levels": ["easy", "hard"]}, {"name": "age", "population": "subject-continuous", "pool_file": "/etc/passwd"}`, 1)),
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/power", payload)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, s, http.MethodPost, "/api/sweep", body("0.05", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSweep(t *testing.T) {
	s := newTestServer(true)
	rec := do(t, s, http.MethodPost, "/api/sweep", body("0.05", `, "sweep": {"subject_n": [4, 5], "item_n": [6]}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Points)
	assert.Len(t, resp.Records, 8)

	rec = do(t, s, http.MethodGet, "/api/sweeps/"+resp.SweepID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetRunWithoutRepository(t *testing.T) {
	rec := do(t, newTestServer(false), http.MethodGet, "/api/runs/abc", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
