package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSend(t *testing.T) {
	var (
		gotBody []byte
		gotSig  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Mapwatch-Signature")
	}))
	defer srv.Close()

	report := &Report{
		RanAt:   time.Now().UTC(),
		Worlds:  []WorldResult{{WorldID: 1, Name: "com1", VillageCount: 42}},
		Success: 1,
	}

	wh := NewWebhook(srv.URL, "sekrit")
	require.NoError(t, wh.Send(context.Background(), report))

	var decoded Report
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, 42, decoded.Worlds[0].VillageCount)

	mac := hmac.New(sha256.New, []byte("sekrit"))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestWebhookNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "")
	assert.Error(t, wh.Send(context.Background(), &Report{}))
}

func TestManagerBroadcastJoinsErrors(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ok.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer failing.Close()

	m := NewManager([]Notifier{NewWebhook(ok.URL, ""), NewWebhook(failing.URL, "")})
	require.True(t, m.HasNotifiers())

	err := m.Broadcast(context.Background(), &Report{})
	assert.ErrorContains(t, err, "webhook")
}
