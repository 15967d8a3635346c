package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentmesh/internal/agent"
	"github.com/opencode-ai/agentmesh/internal/event"
	"github.com/opencode-ai/agentmesh/internal/protocol"
	"github.com/opencode-ai/agentmesh/internal/tool"
	"github.com/opencode-ai/agentmesh/pkg/types"
)

func newTestServer(t *testing.T, appConfig *types.Config) (*Server, *httptest.Server) {
	t.Helper()
	s := New(DefaultConfig(), appConfig)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
		ts.Close()
	})
	return s, ts
}

// testClient wraps a websocket connection and consumes the handshake on
// dial.
type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialMesh(t *testing.T, ts *httptest.Server) *testClient {
	t.Helper()
	url := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &testClient{t: t, conn: conn}

	hs := c.recv()
	require.Equal(t, protocol.TypeHandshake, hs.Type)
	var data protocol.HandshakeData
	require.NoError(t, hs.DecodeData(&data))
	require.Equal(t, protocol.Version, data.ProtocolVersion)
	return c
}

func (c *testClient) send(msgType string, data any, id string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(protocol.NewWithID(msgType, data, id)))
}

func (c *testClient) sendRaw(raw string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (c *testClient) recv() *protocol.Envelope {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	env, err := protocol.Decode(raw)
	require.NoError(c.t, err)
	return env
}

// recvType reads until an envelope of the wanted type arrives, skipping
// interleaved agent_update pushes from other clients' lifecycles.
func (c *testClient) recvType(want string) *protocol.Envelope {
	c.t.Helper()
	for i := 0; i < 10; i++ {
		env := c.recv()
		if env.Type == want {
			return env
		}
		require.Equal(c.t, protocol.TypeAgentUpdate, env.Type,
			"unexpected envelope %s while waiting for %s", env.Type, want)
	}
	c.t.Fatalf("no %s envelope received", want)
	return nil
}

func (c *testClient) register(agentID string) {
	c.t.Helper()
	c.send(protocol.TypeAgentRegister, protocol.RegisterData{AgentID: agentID}, "reg-"+agentID)
	env := c.recvType(protocol.TypeAgentRegistered)
	var data protocol.AgentRegisteredData
	require.NoError(c.t, env.DecodeData(&data))
	require.True(c.t, data.Success)
	require.Equal(c.t, "agent:"+agentID, data.Channel)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestInitialize_Idempotent(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := dialMesh(t, ts)

	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("init-%d", i)
		c.send(protocol.TypeInitialize, protocol.InitializeData{ProtocolVersion: "1.0"}, id)
		env := c.recvType(protocol.TypeInitializeResponse)
		assert.Equal(t, id, env.ID)

		var data protocol.InitializeData
		require.NoError(t, env.DecodeData(&data))
		assert.Equal(t, protocol.Version, data.ProtocolVersion)
	}
}

func TestRegister_DuplicateAcrossSessions(t *testing.T) {
	_, ts := newTestServer(t, nil)

	c1 := dialMesh(t, ts)
	c1.register("worker-1")

	c2 := dialMesh(t, ts)
	c2.send(protocol.TypeAgentRegister, protocol.RegisterData{AgentID: "worker-1"}, "dup")
	env := c2.recvType(protocol.TypeError)
	assert.Equal(t, "dup", env.ID)

	var errData protocol.ErrorData
	require.NoError(t, env.DecodeData(&errData))
	assert.Equal(t, protocol.ErrCodeDuplicateAgent, errData.Code)

	// The losing session stays usable and can register another id.
	c2.register("worker-2")
}

func TestRegister_SecondBindRejected(t *testing.T) {
	_, ts := newTestServer(t, nil)

	c := dialMesh(t, ts)
	c.register("worker-1")

	c.send(protocol.TypeAgentRegister, protocol.RegisterData{AgentID: "worker-other"}, "rebind")
	env := c.recvType(protocol.TypeError)

	var errData protocol.ErrorData
	require.NoError(t, env.DecodeData(&errData))
	assert.Equal(t, protocol.ErrCodeAlreadyBound, errData.Code)
}

func TestRegister_ReclaimAfterDisconnect(t *testing.T) {
	s, ts := newTestServer(t, nil)

	c1 := dialMesh(t, ts)
	c1.register("worker-1")
	c1.conn.Close()

	waitFor(t, func() bool {
		a, err := s.agents.Get("worker-1")
		return err == nil && a.Status == agent.StatusDisconnected
	})

	c2 := dialMesh(t, ts)
	c2.register("worker-1")

	a, err := s.agents.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusActive, a.Status)
}

func TestGuard_RequestsBeforeRegistration(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := dialMesh(t, ts)

	cases := []struct {
		msgType string
		data    any
	}{
		{protocol.TypeToolsCall, protocol.ToolCallData{Name: "mesh_status"}},
		{protocol.TypeContextShare, protocol.ContextShareData{ContextType: "x"}},
		{protocol.TypeContextRequest, protocol.ContextRequestData{ContextType: "x", FromAgent: "y"}},
	}
	for i, tc := range cases {
		id := fmt.Sprintf("req-%d", i)
		c.send(tc.msgType, tc.data, id)
		env := c.recvType(protocol.TypeError)
		assert.Equal(t, id, env.ID)

		var errData protocol.ErrorData
		require.NoError(t, env.DecodeData(&errData))
		assert.Equal(t, protocol.ErrCodeNotRegistered, errData.Code, "type %s", tc.msgType)
	}

	// Registry queries are allowed pre-registration and the session
	// stays in Connected.
	c.send(protocol.TypeAgentStatus, nil, "st")
	env := c.recvType(protocol.TypeAgentStatusResponse)
	assert.Equal(t, "st", env.ID)
}

func TestUnknownMessageType_SessionStaysUsable(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := dialMesh(t, ts)
	c.register("worker-1")

	c.send("bogus/type", nil, "bad")
	env := c.recvType(protocol.TypeError)
	assert.Equal(t, "bad", env.ID)

	var errData protocol.ErrorData
	require.NoError(t, env.DecodeData(&errData))
	assert.Equal(t, protocol.ErrCodeUnknownMessageType, errData.Code)

	c.send(protocol.TypeAgentStatus, nil, "after")
	env = c.recvType(protocol.TypeAgentStatusResponse)
	assert.Equal(t, "after", env.ID)
}

func TestMalformedFrame(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := dialMesh(t, ts)

	c.sendRaw("this is not json")
	env := c.recvType(protocol.TypeError)

	var errData protocol.ErrorData
	require.NoError(t, env.DecodeData(&errData))
	assert.Equal(t, protocol.ErrCodeMalformed, errData.Code)

	// Missing type is malformed too.
	c.sendRaw(`{"data":{}}`)
	env = c.recvType(protocol.TypeError)
	require.NoError(t, env.DecodeData(&errData))
	assert.Equal(t, protocol.ErrCodeMalformed, errData.Code)
}

func TestContextShare_BroadcastExceptPublisher(t *testing.T) {
	_, ts := newTestServer(t, nil)

	c1 := dialMesh(t, ts)
	c1.register("publisher")
	c2 := dialMesh(t, ts)
	c2.register("listener-a")
	c3 := dialMesh(t, ts)
	c3.register("listener-b")

	payload := json.RawMessage(`{"finding":"anomaly"}`)
	c1.send(protocol.TypeContextShare, protocol.ContextShareData{
		ContextType: "analysis",
		ContextData: payload,
	}, "")

	for _, c := range []*testClient{c2, c3} {
		env := c.recvType(protocol.TypeContextShared)
		var data protocol.ContextSharedData
		require.NoError(t, env.DecodeData(&data))
		assert.Equal(t, "publisher", data.FromAgent)
		assert.Equal(t, "analysis", data.ContextType)
		assert.JSONEq(t, string(payload), string(data.ContextData))
	}

	// The publisher does not receive its own share: the next frame it
	// sees is the answer to its probe.
	c1.send(protocol.TypeAgentStatus, nil, "probe")
	env := c1.recvType(protocol.TypeAgentStatusResponse)
	assert.Equal(t, "probe", env.ID)
}

func TestContextShare_TargetedSkipsUnknown(t *testing.T) {
	s, ts := newTestServer(t, nil)

	deliveredCh := make(chan int, 1)
	s.bus.Subscribe(event.ContextPublished, func(e event.Event) {
		data := e.Data.(map[string]any)
		deliveredCh <- data["delivered"].(int)
	})

	c1 := dialMesh(t, ts)
	c1.register("publisher")
	c2 := dialMesh(t, ts)
	c2.register("target")
	c3 := dialMesh(t, ts)
	c3.register("bystander")

	c1.send(protocol.TypeContextShare, protocol.ContextShareData{
		ContextType:  "task",
		ContextData:  json.RawMessage(`{"step":1}`),
		TargetAgents: []string{"target", "never-registered"},
	}, "")

	env := c2.recvType(protocol.TypeContextShared)
	var data protocol.ContextSharedData
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, "task", data.ContextType)

	select {
	case delivered := <-deliveredCh:
		assert.Equal(t, 1, delivered)
	case <-time.After(2 * time.Second):
		t.Fatal("no context.published event")
	}

	// The bystander was not targeted.
	c3.send(protocol.TypeAgentStatus, nil, "probe")
	probeResp := c3.recvType(protocol.TypeAgentStatusResponse)
	assert.Equal(t, "probe", probeResp.ID)
}

func TestContextRequest_FoundAndMiss(t *testing.T) {
	_, ts := newTestServer(t, nil)

	c1 := dialMesh(t, ts)
	c1.register("publisher")
	c2 := dialMesh(t, ts)
	c2.register("reader")

	// A miss answers immediately with found false, never waits.
	c2.send(protocol.TypeContextRequest, protocol.ContextRequestData{
		ContextType: "analysis",
		FromAgent:   "publisher",
	}, "miss")
	env := c2.recvType(protocol.TypeContextResponse)
	assert.Equal(t, "miss", env.ID)

	var resp protocol.ContextResponseData
	require.NoError(t, env.DecodeData(&resp))
	assert.False(t, resp.Found)

	// Publish twice; the lookup returns the latest value.
	c1.send(protocol.TypeContextShare, protocol.ContextShareData{
		ContextType: "analysis",
		ContextData: json.RawMessage(`{"rev":1}`),
	}, "")
	c1.send(protocol.TypeContextShare, protocol.ContextShareData{
		ContextType: "analysis",
		ContextData: json.RawMessage(`{"rev":2}`),
	}, "")
	c2.recvType(protocol.TypeContextShared)
	c2.recvType(protocol.TypeContextShared)

	c2.send(protocol.TypeContextRequest, protocol.ContextRequestData{
		ContextType: "analysis",
		FromAgent:   "publisher",
	}, "hit")
	env = c2.recvType(protocol.TypeContextResponse)
	assert.Equal(t, "hit", env.ID)

	require.NoError(t, env.DecodeData(&resp))
	assert.True(t, resp.Found)
	assert.JSONEq(t, `{"rev":2}`, string(resp.ContextData))
	require.NotNil(t, resp.Timestamp)
}

func TestToolsList_BuiltinTable(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := dialMesh(t, ts)

	c.send(protocol.TypeToolsList, nil, "list")
	env := c.recvType(protocol.TypeToolsListResponse)
	assert.Equal(t, "list", env.ID)

	var data protocol.ToolsListResponseData
	require.NoError(t, env.DecodeData(&data))

	names := make([]string, 0, len(data.Tools))
	for _, ti := range data.Tools {
		names = append(names, ti.Name)
	}
	assert.Contains(t, names, "mesh_status")
	assert.Contains(t, names, "context_summary")
	// No generator configured, so text_generate is absent.
	assert.NotContains(t, names, "text_generate")
}

func TestToolsCall_ExactlyOneResponse(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := dialMesh(t, ts)
	c.register("caller")

	c.send(protocol.TypeToolsCall, protocol.ToolCallData{Name: "mesh_status"}, "call-1")
	env := c.recvType(protocol.TypeToolsCallResponse)
	assert.Equal(t, "call-1", env.ID)

	var resp protocol.ToolCallResponseData
	require.NoError(t, env.DecodeData(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "mesh_status", resp.ToolName)

	// No second response follows: the next frame is the probe answer.
	c.send(protocol.TypeAgentStatus, nil, "probe")
	env = c.recvType(protocol.TypeAgentStatusResponse)
	assert.Equal(t, "probe", env.ID)
}

func TestToolsCall_UnknownAndFailing(t *testing.T) {
	s, ts := newTestServer(t, nil)
	s.tools.Register(tool.Descriptor{
		Name:        "always_fails",
		Description: "fails on purpose",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}, tool.AdapterFunc(func(ctx context.Context, args map[string]any) (any, error) {
		return nil, fmt.Errorf("backend exploded")
	}))

	c := dialMesh(t, ts)
	c.register("caller")

	c.send(protocol.TypeToolsCall, protocol.ToolCallData{Name: "no_such_tool"}, "u1")
	env := c.recvType(protocol.TypeToolsCallResponse)
	assert.Equal(t, "u1", env.ID)

	var resp protocol.ToolCallResponseData
	require.NoError(t, env.DecodeData(&resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Unknown tool")

	c.send(protocol.TypeToolsCall, protocol.ToolCallData{Name: "always_fails"}, "f1")
	env = c.recvType(protocol.TypeToolsCallResponse)
	assert.Equal(t, "f1", env.ID)

	require.NoError(t, env.DecodeData(&resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "backend exploded")
}

func TestToolsCall_SlowToolDoesNotBlockSession(t *testing.T) {
	s, ts := newTestServer(t, nil)
	s.tools.Register(tool.Descriptor{
		Name:        "slow",
		Description: "sleeps before answering",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}, tool.AdapterFunc(func(ctx context.Context, args map[string]any) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "done", nil
	}))

	c := dialMesh(t, ts)
	c.register("caller")

	c.send(protocol.TypeToolsCall, protocol.ToolCallData{Name: "slow"}, "slow-1")
	c.send(protocol.TypeAgentStatus, nil, "fast-1")

	// The status query answers while the tool is still running.
	env := c.recvType(protocol.TypeAgentStatusResponse)
	assert.Equal(t, "fast-1", env.ID)

	env = c.recvType(protocol.TypeToolsCallResponse)
	assert.Equal(t, "slow-1", env.ID)
}

func TestDisconnect_AnnouncedOnceAndContextSurvives(t *testing.T) {
	s, ts := newTestServer(t, nil)

	c1 := dialMesh(t, ts)
	c1.register("departing")
	c2 := dialMesh(t, ts)
	c2.register("observer")

	c1.send(protocol.TypeContextShare, protocol.ContextShareData{
		ContextType: "legacy",
		ContextData: json.RawMessage(`{"kept":true}`),
	}, "")
	c2.recvType(protocol.TypeContextShared)

	c1.conn.Close()

	env := c2.recvType(protocol.TypeAgentUpdate)
	var update protocol.AgentUpdateData
	require.NoError(t, env.DecodeData(&update))
	assert.Equal(t, "departing", update.AgentID)
	assert.Equal(t, protocol.ActionDisconnected, update.Action)

	waitFor(t, func() bool {
		a, err := s.agents.Get("departing")
		return err == nil && a.Status == agent.StatusDisconnected
	})

	// The departed agent's context is still queryable.
	c2.send(protocol.TypeContextRequest, protocol.ContextRequestData{
		ContextType: "legacy",
		FromAgent:   "departing",
	}, "late")
	env = c2.recvType(protocol.TypeContextResponse)

	var resp protocol.ContextResponseData
	require.NoError(t, env.DecodeData(&resp))
	assert.True(t, resp.Found)
	assert.JSONEq(t, `{"kept":true}`, string(resp.ContextData))

	// Exactly one announcement: the next frame after a probe is its
	// answer, not a second agent_update.
	c2.send(protocol.TypeAgentStatus, nil, "probe")
	env = c2.recv()
	assert.Equal(t, protocol.TypeAgentStatusResponse, env.Type)
}

func TestRegister_InitialContextSeeded(t *testing.T) {
	s, ts := newTestServer(t, nil)

	c := dialMesh(t, ts)
	c.send(protocol.TypeAgentRegister, protocol.RegisterData{
		AgentID: "seeded",
		Context: map[string]any{"profile": map[string]any{"lang": "go"}},
	}, "reg")
	c.recvType(protocol.TypeAgentRegistered)

	entry, ok := s.contexts.Get("seeded", "profile")
	require.True(t, ok)
	assert.JSONEq(t, `{"lang":"go"}`, string(entry.Payload))
}

func TestAdminEndpoints(t *testing.T) {
	_, ts := newTestServer(t, nil)

	c := dialMesh(t, ts)
	c.register("admin-visible")
	c.send(protocol.TypeContextShare, protocol.ContextShareData{
		ContextType: "state",
		ContextData: json.RawMessage(`{"x":1}`),
	}, "")

	// The share is processed before the probe answer arrives.
	c.send(protocol.TypeAgentStatus, nil, "probe")
	c.recvType(protocol.TypeAgentStatusResponse)

	var status map[string]any
	getJSON(t, ts.URL+"/status", &status)
	assert.Equal(t, float64(1), status["connectedAgents"])
	assert.Equal(t, float64(1), status["activeSessions"])
	assert.Equal(t, ServerVersion, status["version"])
	assert.Equal(t, true, status["isRunning"])

	var agents struct {
		Count int `json:"count"`
	}
	getJSON(t, ts.URL+"/agents", &agents)
	assert.Equal(t, 1, agents.Count)

	var tools struct {
		Tools []protocol.ToolInfo `json:"tools"`
	}
	getJSON(t, ts.URL+"/tools", &tools)
	assert.NotEmpty(t, tools.Tools)

	var contexts struct {
		AgentID  string            `json:"agentId"`
		Contexts []json.RawMessage `json:"contexts"`
	}
	getJSON(t, ts.URL+"/contexts/admin-visible", &contexts)
	assert.Len(t, contexts.Contexts, 1)

	resp, err := http.Get(ts.URL + "/contexts/no-such-agent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}
