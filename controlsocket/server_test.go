package controlsocket_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcomputer-ai/agentos/cellindex"
	"github.com/smartcomputer-ai/agentos/controlsocket"
	"github.com/smartcomputer-ai/agentos/governance"
)

type fakeKernel struct {
	manifestHash string
	journalHead  uint64
}

func (f *fakeKernel) GetReducerState(name, key string) (interface{}, bool) {
	if name == "counter" {
		return map[string]interface{}{"count": float64(1)}, true
	}
	return nil, false
}
func (f *fakeKernel) ListCells(workspace string) ([]cellindex.CellRef, error) {
	return []cellindex.CellRef{{Workspace: workspace, Key: []byte("k1")}}, nil
}
func (f *fakeKernel) GetJournalHead() uint64 { return f.journalHead }
func (f *fakeKernel) GetManifest() string    { return f.manifestHash }
func (f *fakeKernel) SubmitProposal(patch governance.ManifestPatch, description string) (*governance.Proposal, error) {
	return &governance.Proposal{ID: "p1", Description: description}, nil
}
func (f *fakeKernel) RunShadow(proposalID string, summary governance.ShadowSummary) error { return nil }
func (f *fakeKernel) ApproveProposal(proposalID, approver string, decision bool) error     { return nil }
func (f *fakeKernel) ApplyProposal(proposalID string) (string, error)                     { return "manifest-v2", nil }
func (f *fakeKernel) CreateSnapshot(governanceState interface{}, pinnedRoots []string) (string, error) {
	return "sha256:" + strings.Repeat("a", 64), nil
}
func (f *fakeKernel) Tick(nowNS int64) (bool, error) { return true, nil }

func newTestServer(t *testing.T, auth *controlsocket.TokenService) (*httptest.Server, string) {
	t.Helper()
	k := &fakeKernel{manifestHash: "manifest-v1", journalHead: 3}
	srv := controlsocket.NewServer(k, auth, logrus.NewEntry(logrus.New()))
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	return ts, wsURL
}

func dial(t *testing.T, wsURL string, headers http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, headers)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, env controlsocket.Envelope) controlsocket.Response {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var resp controlsocket.Response
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestServer_GetManifestAndJournalHead(t *testing.T) {
	_, wsURL := newTestServer(t, nil)
	conn := dial(t, wsURL, nil)

	resp := roundTrip(t, conn, controlsocket.Envelope{V: 1, ID: "1", Cmd: "get_manifest"})
	require.True(t, resp.OK)
	var out map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	assert.Equal(t, "manifest-v1", out["manifest_hash"])

	resp2 := roundTrip(t, conn, controlsocket.Envelope{V: 1, ID: "2", Cmd: "get_journal_head"})
	require.True(t, resp2.OK)
	var out2 map[string]float64
	require.NoError(t, json.Unmarshal(resp2.Result, &out2))
	assert.Equal(t, float64(3), out2["height"])
}

func TestServer_UnknownCommandIsError(t *testing.T) {
	_, wsURL := newTestServer(t, nil)
	conn := dial(t, wsURL, nil)
	resp := roundTrip(t, conn, controlsocket.Envelope{V: 1, ID: "1", Cmd: "bogus"})
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
}

func TestServer_RejectsMissingToken(t *testing.T) {
	auth := controlsocket.NewTokenService("secret", time.Hour)
	_, wsURL := newTestServer(t, auth)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestServer_AcceptsValidToken(t *testing.T) {
	auth := controlsocket.NewTokenService("secret", time.Hour)
	_, wsURL := newTestServer(t, auth)
	token, err := auth.IssueToken("operator-1")
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	conn := dial(t, wsURL, headers)

	resp := roundTrip(t, conn, controlsocket.Envelope{V: 1, ID: "1", Cmd: "get_manifest"})
	assert.True(t, resp.OK)
}
