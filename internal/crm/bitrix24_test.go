package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2025, 6, 2, 15, 4, 0, 0, time.UTC)

func sampleLead() models.Lead {
	return models.Lead{
		Identity:         models.Identity{UserID: "42", Username: "ivan", FirstName: "Иван", LastName: "Петров"},
		Phone:            "+79001234567",
		ConsultationTime: "завтра утром",
		Answers:          []string{"1 млн", "нет", "квартира"},
		CreatedAt:        created,
	}
}

type recorded struct {
	path string
	body map[string]any
}

func newPortal(t *testing.T, respond func(method string) (int, string)) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls = append(calls, recorded{path: r.URL.Path, body: body})
		method := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/rest/1/key/"), ".json")
		status, payload := respond(method)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestCreateLead(t *testing.T) {
	srv, calls := newPortal(t, func(string) (int, string) { return http.StatusOK, `{"result": 1017}` })
	c := NewClient(srv.URL+"/rest/1/key/", WithQuestionLabels([]string{"Долги", "Залог"}), WithClock(func() time.Time { return created }))

	id, err := c.CreateLead(context.Background(), sampleLead())
	require.NoError(t, err)
	assert.Equal(t, "1017", id)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/rest/1/key/crm.lead.add.json", call.path)
	fields := call.body["fields"].(map[string]any)
	assert.Equal(t, "Заявка от Иван Петров", fields["TITLE"])
	assert.Equal(t, "NEW", fields["STATUS_ID"])
	assert.Equal(t, "46", fields["SOURCE_ID"])
	phones := fields["PHONE"].([]any)
	assert.Equal(t, "+79001234567", phones[0].(map[string]any)["VALUE"])
	assert.Contains(t, fields["COMMENTS"], "1. Долги: 1 млн")
}

func TestCreateLeadErrors(t *testing.T) {
	_, err := NewClient("").CreateLead(context.Background(), sampleLead())
	assert.ErrorIs(t, err, ErrNotConfigured)

	srv, _ := newPortal(t, func(string) (int, string) {
		return http.StatusUnauthorized, `{"error":"INVALID_CREDENTIALS","error_description":"Invalid request credentials"}`
	})
	_, err = NewClient(srv.URL + "/rest/1/key").CreateLead(context.Background(), sampleLead())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_CREDENTIALS")

	srv, _ = newPortal(t, func(string) (int, string) { return http.StatusOK, `{"result": false}` })
	_, err = NewClient(srv.URL + "/rest/1/key").CreateLead(context.Background(), sampleLead())
	assert.Error(t, err)
}

func TestListAndStatistics(t *testing.T) {
	leads := `{"result":[
		{"ID":"1","STATUS_ID":"NEW","PHONE":[{"VALUE":"+79001234567","VALUE_TYPE":"WORK"}]},
		{"ID":"2","STATUS_ID":"IN_PROCESS"},
		{"ID":"3","STATUS_ID":"CONVERTED"},
		{"ID":"4","STATUS_ID":"JUNK"}
	]}`
	srv, calls := newPortal(t, func(string) (int, string) { return http.StatusOK, leads })
	c := NewClient(srv.URL + "/rest/1/key")
	ctx := context.Background()

	got, err := c.NewLeads(ctx)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "+79001234567", got[0].FirstPhone())
	filter := (*calls)[0].body["filter"].(map[string]any)
	assert.Equal(t, "TELEGRAM_BOT", filter["SOURCE_ID"])
	assert.Equal(t, "NEW", filter["STATUS_ID"])

	stats, err := c.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, Statistics{Total: 4, New: 1, Processed: 1, Converted: 1, Lost: 1}, stats)
	assert.InDelta(t, 25.0, stats.ConversionRate(), 0.001)
}

func TestUpdateLeadStatus(t *testing.T) {
	srv, calls := newPortal(t, func(string) (int, string) { return http.StatusOK, `{"result": true}` })
	c := NewClient(srv.URL + "/rest/1/key")

	require.NoError(t, c.UpdateLeadStatus(context.Background(), "7", StatusProcessed))
	assert.Equal(t, "/rest/1/key/crm.lead.update.json", (*calls)[0].path)
	assert.Equal(t, "7", (*calls)[0].body["id"])
}

func TestExport(t *testing.T) {
	srv, _ := newPortal(t, func(string) (int, string) { return http.StatusOK, `{"result":[{"ID":"1","TITLE":"Заявка"}]}` })
	path := filepath.Join(t.TempDir(), "leads_export.json")

	n, err := NewClient(srv.URL+"/rest/1/key").Export(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back []Lead
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "Заявка", back[0].Title)
}

func TestFormatComment(t *testing.T) {
	labels := []string{"Долги", "Залог"}
	got := FormatComment(sampleLead(), labels, created)

	want := "ID пользователя: 42\n" +
		"Username: @ivan\n" +
		"\n📋 Ответы на вопросы:\n" +
		"1. Долги: 1 млн\n" +
		"2. Залог: нет\n" +
		"\n📞 Телефон: +79001234567\n" +
		"🕐 Время консультации: завтра утром\n" +
		"\n📅 Дата создания: 02.06.2025 15:04"
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "квартира", "answers beyond the label list are dropped")
}
