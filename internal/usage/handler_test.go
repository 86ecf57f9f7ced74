package usage

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlerApp(t *testing.T) (*fiber.App, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	h := NewHandler(newTestCollector(store), ScriptOptions{CollectURL: "/performance/retrieve/dependency", Delay: 5 * time.Second})

	app := fiber.New()
	app.Post("/collect", h.Collect)
	app.Get("/script.js", h.Script)
	app.Get("/usage", h.ListRecords)
	app.Get("/usage/stats", h.Stats)
	app.Delete("/usage", h.Reset)
	return app, store
}

func TestHandler_Collect(t *testing.T) {
	app, store := setupHandlerApp(t)

	t.Run("acknowledges a valid report", func(t *testing.T) {
		body := `{"route":"checkout","deps":["Magento_Checkout/js/view/payment.js","js/bundle/bundle0.js"],"paths":{}}`
		req := httptest.NewRequest("POST", "/collect", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json;charset=utf-8")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		data, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"result":true}`, string(data))

		records, _ := store.List(context.Background())
		require.Len(t, records, 1)
		assert.Equal(t, "Magento_Checkout/js/view/payment", records[0].DependencyName)
	})

	t.Run("acknowledges a report with only skipped entries", func(t *testing.T) {
		body := `{"route":"checkout","deps":["css/a.css"]}`
		resp, err := app.Test(httptest.NewRequest("POST", "/collect", strings.NewReader(body)))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"route":`},
		{name: "non string deps", body: `{"route":"checkout","deps":[1,2]}`},
		{name: "missing route", body: `{"deps":["a.js"]}`},
		{name: "route escaping the bundle directory", body: `{"route":"../../Magento_Checkout/js/view/cart","deps":["Magento_Checkout/js/view/cart.js"]}`},
		{name: "route with a slash", body: `{"route":"checkout/index","deps":["a.js"]}`},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name+" without body", func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("POST", "/collect", strings.NewReader(tt.body)))
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

			data, _ := io.ReadAll(resp.Body)
			assert.Empty(t, data)
		})
	}

	t.Run("rejected reports store nothing", func(t *testing.T) {
		records, err := store.List(context.Background())
		require.NoError(t, err)
		for _, r := range records {
			assert.True(t, ValidPageType(r.PageType), r.PageType)
		}
	})
}

func TestHandler_Script(t *testing.T) {
	app, _ := setupHandlerApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/script.js", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/javascript")

	data, _ := io.ReadAll(resp.Body)
	script := string(data)
	assert.Contains(t, script, `url: "/performance/retrieve/dependency"`)
	assert.Contains(t, script, "delay: 5000")
	assert.Contains(t, script, "retrieve_deps=1;SameSite=Strict")
	assert.Contains(t, script, "X-Requested-With")
}

func TestHandler_AdminEndpoints(t *testing.T) {
	app, store := setupHandlerApp(t)
	ctx := context.Background()
	_, _ = store.Insert(ctx, Record{PageType: "checkout", DependencyName: "a", DependencyPath: "a.js"}, ConflictIgnore)
	_, _ = store.Insert(ctx, Record{PageType: "cms", DependencyName: "b", DependencyPath: "b.js"}, ConflictIgnore)

	t.Run("lists records", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/usage", nil))
		require.NoError(t, err)

		var out struct {
			Records []Record `json:"records"`
			Count   int      `json:"count"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, 2, out.Count)
		assert.Equal(t, "a.js", out.Records[0].DependencyPath)
	})

	t.Run("returns stats", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/usage/stats", nil))
		require.NoError(t, err)
		data, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"page_types":[{"page_type":"checkout","dependencies":1},{"page_type":"cms","dependencies":1}]}`, string(data))
	})

	t.Run("resets records", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("DELETE", "/usage", nil))
		require.NoError(t, err)
		data, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"deleted":2}`, string(data))

		records, _ := store.List(ctx)
		assert.Empty(t, records)
	})
}
