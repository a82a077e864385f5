package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"foreman_bot/internal/metrics"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string, timeout time.Duration) *Client {
	return NewClient(url+"/rest/1/secret/", timeout, metrics.NewMetrics(), nil)
}

// Тест проверяет, что ListItems отправляет POST на метод и разбирает страницу
func TestListItemsDecodesPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/1/secret/crm.item.list.json", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(128), body["entityTypeId"])
		assert.Equal(t, "D_42", body["filter"].(map[string]any)["ufCrm5ObjectLink"])

		io.WriteString(w, `{"result":{"items":[{"id":7,"title":"Квартал 7"}]},"next":50,"total":120}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, 2*time.Second)
	items, resp, err := c.ListItems(context.Background(), ListParams{
		EntityTypeID: 128,
		Filter:       map[string]any{"ufCrm5ObjectLink": "D_42"},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(7), items[0].ID())
	assert.Equal(t, "Квартал 7", items[0].String("title"))
	assert.True(t, resp.HasNext)
	assert.Equal(t, 50, resp.Next)
}

func TestListAllItemsFollowsNext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["start"].(float64) == 0 {
			io.WriteString(w, `{"result":{"items":[{"id":1},{"id":2}]},"next":2,"total":3}`)
			return
		}
		io.WriteString(w, `{"result":{"items":[{"id":3}]},"total":3}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, 2*time.Second)
	items, err := c.ListAllItems(context.Background(), ListParams{EntityTypeID: 1})
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestListUserfieldsTakesRussianLabel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/1/secret/crm.item.userfield.list.json", r.URL.Path)
		io.WriteString(w, `{"result":{"fields":[
			{"fieldName":"UF_CRM_5_UF_PLAN_JSON","userTypeId":"string","editFormLabel":{"en":"Plan","ru":"План JSON"}},
			{"fieldName":"uf_crm_5_uf_date","userTypeId":"date","editFormLabel":"","listColumnLabel":{"en":"Date"}},
			{"userTypeId":"string"}
		]}}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, 2*time.Second)
	fields, err := c.ListUserfields(context.Background(), 1040)
	require.NoError(t, err)
	assert.Equal(t, []UserfieldInfo{
		{FieldName: "UF_CRM_5_UF_PLAN_JSON", Type: "string", Label: "План JSON"},
		{FieldName: "UF_CRM_5_UF_DATE", Type: "date", Label: "Date"},
	}, fields)
}

// Тест проверяет, что ошибка CRM превращается в RemoteError без повторов
func TestRemoteErrorSurfacedWithoutRetry(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"ACCESS_DENIED","error_description":"Недостаточно прав"}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, 2*time.Second)
	_, err := c.AddItem(context.Background(), 128, map[string]any{"title": "x"})

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "ACCESS_DENIED", re.Code)
	assert.Equal(t, "Недостаточно прав", re.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestServerErrorWithoutBodyIsRemoteError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "server error", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, 2*time.Second)
	_, err := c.GetItem(context.Background(), 128, 1)

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "HTTP_500", re.Code)
}

func TestTimeoutIsTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		io.WriteString(w, `{"result":{}}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, 50*time.Millisecond)
	_, err := c.GetItem(context.Background(), 128, 1)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, MethodItemGet, te.Method)
}

func TestBreakerOpensAfterTransportFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	c := newTestClient(url, 200*time.Millisecond)
	for i := 0; i < 5; i++ {
		_, err := c.GetItem(context.Background(), 1, 1)
		var te *TransportError
		require.True(t, errors.As(err, &te))
	}

	_, err := c.GetItem(context.Background(), 1, 1)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestMutatingCallsAreSerialised(t *testing.T) {
	var inFlight, maxInFlight int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		io.WriteString(w, `{"result":{"item":{"id":5}}}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, 2*time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := c.UpdateItem(context.Background(), 1, 5, map[string]any{"title": "t"})
			assert.NoError(t, err)
			assert.Equal(t, int64(5), item.ID())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestItemAccessors(t *testing.T) {
	item := Item{
		"id":          "12",
		"qty":         "2,5",
		"link":        []any{"D_42"},
		"createdTime": "2026-10-15T08:00:00+03:00",
		"date":        "2026-10-15T00:00:00+03:00",
		"photo":       map[string]any{"id": 1.0, "urlMachine": "https://x/file"},
	}
	assert.Equal(t, int64(12), item.ID())
	assert.Equal(t, 2.5, item.Float("qty"))
	assert.Equal(t, []string{"D_42"}, item.Strings("link"))
	assert.False(t, item.Time("createdTime").IsZero())
	assert.Equal(t, "2026-10-15", item.Date("date"))
	assert.True(t, item.HasFile("photo"))
	assert.False(t, item.HasFile("missing"))
	assert.Equal(t, []string{"https://x/file"}, item.FileURLs("photo"))
}
