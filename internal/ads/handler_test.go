package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/itranswarp/backend/internal/middleware"
	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/clock"
	"github.com/itranswarp/backend/pkg/response"
)

// newTestRouter mounts the ad routes behind a stub that authenticates as the
// user named by the X-Test-User header.
func newTestRouter(t *testing.T, env *testEnv) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	users := map[string]models.User{
		"admin":   env.admin,
		"sponsor": env.sponsor,
		"rival":   env.rival,
		"reader":  env.reader,
	}
	h := NewHandler(env.inv, env.serving, clock.Func(func() time.Time { return env.now }), zaptest.NewLogger(t))

	r := gin.New()
	api := r.Group("")
	api.Use(func(c *gin.Context) {
		u, ok := users[c.GetHeader("X-Test-User")]
		if !ok {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		c.Set(middleware.ContextUserID, u.ID)
		c.Set(middleware.ContextUserRole, string(u.Role))
		c.Next()
	})
	h.RegisterRoutes(r, api)
	return r
}

func doJSON(r http.Handler, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestServingEndpointIsPublic(t *testing.T) {
	env := newTestEnv(t, "2017-07-10")
	slot := env.createSlot(t, "Sidebar", 2)
	env.createPeriod(t, slot, "2017-07-08", 1)
	r := newTestRouter(t, env)

	w := doJSON(r, http.MethodGet, "/api/ads", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap models.ServingSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Contains(t, snap, "sidebar")
	assert.Len(t, snap["sidebar"].Periods, 1)
	assert.Equal(t, 1, snap["sidebar"].AutoFillCount)

	again := doJSON(r, http.MethodGet, "/api/ads", "", nil)
	assert.Equal(t, w.Body.Bytes(), again.Body.Bytes())
}

func TestSlotEndpoints(t *testing.T) {
	env := newTestEnv(t, "2017-07-10")
	r := newTestRouter(t, env)
	body := CreateSlotRequest{
		Name: "Top Banner", Description: "banner", Price: 100,
		Width: 728, Height: 90, NumSlots: 2, NumAutoFill: 1, AutoFill: "<ins/>",
	}

	w := doJSON(r, http.MethodPost, "/api/adslots", "admin", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var slot models.AdSlot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &slot))
	assert.Equal(t, "top-banner", slot.Alias)

	w = doJSON(r, http.MethodPost, "/api/adslots", "admin", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrorBody{Error: "parameter:invalid", Data: "name", Message: "Duplicate name."}, decodeError(t, w))

	w = doJSON(r, http.MethodGet, "/api/adslots", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Slots []models.AdSlot `json:"adslots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Slots, 1)

	w = doJSON(r, http.MethodGet, "/api/adslots", "sponsor", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "permission:denied", decodeError(t, w).Error)

	w = doJSON(r, http.MethodGet, "/api/adslots", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(r, http.MethodGet, "/api/adslots/not-a-uuid", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "id", decodeError(t, w).Data)

	w = doJSON(r, http.MethodPost, "/api/adslots/"+slot.ID.String()+"/delete", "admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(r, http.MethodGet, "/api/adslots/"+slot.ID.String(), "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "AdSlot", decodeError(t, w).Data)
}

func TestCreateSlotMissingField(t *testing.T) {
	env := newTestEnv(t, "2017-07-10")
	r := newTestRouter(t, env)

	w := doJSON(r, http.MethodPost, "/api/adslots", "admin", map[string]interface{}{"name": "A"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "parameter:invalid", decodeError(t, w).Error)
}

func TestPeriodEndpoints(t *testing.T) {
	env := newTestEnv(t, "2017-07-10")
	slot := env.createSlot(t, "A", 1)
	r := newTestRouter(t, env)

	req := CreatePeriodRequest{SlotID: slot.ID, UserID: env.sponsor.ID, StartAt: "2017-07-08", Months: 2}
	w := doJSON(r, http.MethodPost, "/api/adperiods", "admin", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p models.AdPeriod
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, models.Date("2017-09-08"), p.EndAt)

	req.UserID = env.rival.ID
	w = doJSON(r, http.MethodPost, "/api/adperiods", "admin", req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "adslot_id", decodeError(t, w).Data)

	w = doJSON(r, http.MethodPost, "/api/adperiods/"+p.ID.String()+"/extend", "admin", ExtendPeriodRequest{Months: 1})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, models.Date("2017-10-08"), p.EndAt)

	w = doJSON(r, http.MethodPost, "/api/adperiods/"+p.ID.String()+"/delete", "admin", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodPost, "/api/adperiods", "sponsor", req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListPeriodsScopesSponsors(t *testing.T) {
	env := newTestEnv(t, "2017-07-10")
	slot := env.createSlot(t, "A", 3)
	mine := env.createPeriod(t, slot, "2017-07-08", 1)
	_, err := env.inv.Periods.CreatePeriod(context.Background(), env.rival.ID, slot.ID, "2017-07-08", 1)
	require.NoError(t, err)
	r := newTestRouter(t, env)

	var list struct {
		Periods []models.AdPeriod `json:"adperiods"`
	}
	w := doJSON(r, http.MethodGet, "/api/adperiods", "sponsor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Periods, 1)
	assert.Equal(t, mine.ID, list.Periods[0].ID)

	w = doJSON(r, http.MethodGet, "/api/adperiods?adslot_id="+slot.ID.String(), "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Periods, 2)

	w = doJSON(r, http.MethodGet, "/api/adperiods", "reader", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMaterialEndpoints(t *testing.T) {
	env := newTestEnv(t, "2017-07-10")
	slot := env.createSlot(t, "A", 2)
	p := env.createPeriod(t, slot, "2017-07-08", 2)
	r := newTestRouter(t, env)
	path := "/api/adperiods/" + p.ID.String() + "/admaterials"
	body := CreateMaterialRequest{URL: "https://example.com", Image: "data:image/png;base64,cG5nLWJ5dGVz"}

	w := doJSON(r, http.MethodPost, path, "rival", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(r, http.MethodPost, path, "sponsor", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var m models.AdMaterial
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, []byte("png-bytes"), env.assets.stored[m.CoverRef])

	body.Image = "!!not base64!!"
	w = doJSON(r, http.MethodPost, path, "sponsor", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "image", decodeError(t, w).Data)

	var list struct {
		Materials []models.AdMaterial `json:"admaterials"`
	}
	w = doJSON(r, http.MethodGet, "/api/admaterials?period_id="+p.ID.String(), "rival", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list.Materials)

	w = doJSON(r, http.MethodGet, "/api/admaterials?period_id="+p.ID.String(), "sponsor", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Materials, 1)

	w = doJSON(r, http.MethodPost, "/api/admaterials/"+m.ID.String()+"/delete", "sponsor", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{m.CoverRef}, env.assets.released)
}

func TestServingEndpointUnavailable(t *testing.T) {
	env := newTestEnv(t, "2017-07-10")
	env.store.failTx = assert.AnError
	r := newTestRouter(t, env)

	w := doJSON(r, http.MethodGet, "/api/ads", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "internal:unavailable", body.Error)
	assert.NotContains(t, body.Message, assert.AnError.Error())
}
