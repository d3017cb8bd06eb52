//go:build integration
// +build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	httpapi "github.com/execution-hub/moldwatch/internal/api/http"
	"github.com/execution-hub/moldwatch/internal/application/notification"
	"github.com/execution-hub/moldwatch/internal/application/session"
	"github.com/execution-hub/moldwatch/internal/domain/controller"
	"github.com/execution-hub/moldwatch/internal/infrastructure/credential"
	"github.com/execution-hub/moldwatch/internal/infrastructure/memstore"
	"github.com/execution-hub/moldwatch/internal/infrastructure/metrics"
	"github.com/execution-hub/moldwatch/internal/infrastructure/sse"
	"github.com/execution-hub/moldwatch/internal/infrastructure/transport"
	"github.com/execution-hub/moldwatch/internal/protocol"
)

const testOrg = "plant-a"
const testPassword = "S3cure!Passw0rd"

// fakeHost plays the controller server: it accepts one Join per connection
// and answers the list request with a fixed fleet.
type fakeHost struct {
	t        *testing.T
	password string

	mu    sync.Mutex
	joins []protocol.Join
}

func (h *fakeHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.t.Logf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env struct {
			Type protocol.MessageType `json:"$type"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			h.t.Errorf("bad frame from client: %s", raw)
			return
		}
		switch env.Type {
		case protocol.TypeJoin:
			var join protocol.Join
			_ = json.Unmarshal(raw, &join)
			h.mu.Lock()
			h.joins = append(h.joins, join)
			h.mu.Unlock()
			if join.Password != h.password {
				h.write(conn, `{"$type":"JoinResponse","result":1,"level":0,"message":"bad password"}`)
				continue
			}
			h.write(conn, `{"$type":"JoinResponse","result":150,"level":3}`)
		case protocol.TypeRequestControllersList:
			h.write(conn, `{"$type":"ControllersList","data":{`+
				`"1":{"controllerId":1,"displayName":"Press 1","opMode":"Automatic","jobMode":"ID02"},`+
				`"2":{"controllerId":2,"displayName":"Press 2","opMode":"Manual","jobMode":"ID01"}}}`)
			h.write(conn, `{"$type":"ControllerStatus","controllerId":1,"opMode":"SemiAutomatic","timestamp":"2026-01-01T08:00:00Z"}`+"\n"+
				`{"$type":"ControllerStatus","controllerId":1,"opMode":"Manual","timestamp":"2026-01-01T07:00:00Z"}`)
		}
	}
}

func (h *fakeHost) write(conn *websocket.Conn, doc string) {
	if err := conn.WriteMessage(websocket.TextMessage, []byte(doc)); err != nil {
		h.t.Logf("write: %v", err)
	}
}

func (h *fakeHost) joinCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.joins)
}

func (h *fakeHost) lastJoin() protocol.Join {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.joins[len(h.joins)-1]
}

type stack struct {
	api   *httptest.Server
	store *memstore.Store
}

func newStack(t *testing.T, host *fakeHost, password string) *stack {
	t.Helper()
	upstream := httptest.NewServer(host)
	t.Cleanup(upstream.Close)

	logger := zerolog.Nop()
	creds, err := credential.Open("", password, logger)
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	prom := metrics.NewProm(prometheus.NewRegistry())
	store := memstore.New()
	hub := sse.NewHub(logger)
	link := transport.New(transport.Config{
		URL:                  "ws" + strings.TrimPrefix(upstream.URL, "http"),
		ReconnectionInterval: 100 * time.Millisecond,
	}, logger, transport.WithRecorder(prom))

	publisher := notification.NewPublisher(hub, store, logger)
	detach := publisher.Attach()

	reconciler := session.NewReconciler(session.Config{
		RefreshInterval:   50 * time.Millisecond,
		JoinRetryInterval: 200 * time.Millisecond,
		AliveSendInterval: time.Second,
		SyncInterval:      time.Minute,
		OrgID:             testOrg,
		Filter:            "Status, Alarms",
	}, link, store, creds, protocol.NewFactory(), logger,
		session.WithObserver(publisher),
		session.WithRecorder(prom),
	)

	apiServer := httpapi.NewServer(reconciler, store, creds, link, hub, prom.Handler(), logger)
	api := httptest.NewServer(apiServer.Router())

	ctx, cancel := context.WithCancel(context.Background())
	if err := link.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reconciler.Run(ctx, link.States(), link.Messages())
	}()

	t.Cleanup(func() {
		hub.Stop()
		api.Close()
		cancel()
		<-done
		_ = link.Close()
		detach()
	})
	return &stack{api: api, store: store}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("decode %s: %v (%s)", url, err, body)
		}
	}
	return resp.StatusCode
}

func sessionStatus(t *testing.T, baseURL string) map[string]interface{} {
	var out map[string]interface{}
	getJSON(t, baseURL+"/v1/status", &out)
	return out
}

func TestLiveFleetIntegration(t *testing.T) {
	host := &fakeHost{t: t, password: testPassword}
	s := newStack(t, host, testPassword)

	waitFor(t, "active session", func() bool {
		st := sessionStatus(t, s.api.URL)
		return st["phase"] == "active" && st["controllers"] == float64(2)
	})

	join := host.lastJoin()
	if join.OrgID != testOrg || join.Password != testPassword || join.Filter != "Status, Alarms" {
		t.Fatalf("unexpected join: %+v", join)
	}
	if st := sessionStatus(t, s.api.URL); st["status"] != "online" || st["accessLevel"] != float64(3) {
		t.Fatalf("unexpected status: %v", st)
	}

	// the second update is older than the first and must not win
	waitFor(t, "status update", func() bool {
		var st controller.State
		return getJSON(t, s.api.URL+"/v1/controllers/1", &st) == http.StatusOK && st.OpMode == "SemiAutomatic"
	})

	var list struct {
		Controllers []controller.State `json:"controllers"`
		Count       int                `json:"count"`
	}
	getJSON(t, s.api.URL+"/v1/controllers?where=opMode%20%3D%3D%20'Manual'", &list)
	if list.Count != 1 || list.Controllers[0].DisplayName != "Press 2" {
		t.Fatalf("unexpected filtered list: %+v", list)
	}

	resp, err := http.Get(s.api.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "moldwatch_controllers_tracked 2") {
		t.Fatalf("metrics missing tracked gauge:\n%s", body)
	}
}

func TestPasswordChangeIntegration(t *testing.T) {
	host := &fakeHost{t: t, password: testPassword}
	s := newStack(t, host, "wrong")

	waitFor(t, "denied session", func() bool {
		return sessionStatus(t, s.api.URL)["status"] == "denied"
	})
	before := host.joinCount()

	resp, err := http.Post(s.api.URL+"/v1/settings/password", "application/json",
		strings.NewReader(`{"password":"`+testPassword+`"}`))
	if err != nil {
		t.Fatalf("set password: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("set password status %d", resp.StatusCode)
	}

	waitFor(t, "active session after reconnect", func() bool {
		return sessionStatus(t, s.api.URL)["phase"] == "active"
	})
	if host.joinCount() <= before || host.lastJoin().Password != testPassword {
		t.Fatalf("expected a new join with the updated password, got %+v", host.lastJoin())
	}
	if s.store.Len() != 2 {
		t.Fatalf("expected 2 controllers, got %d", s.store.Len())
	}
}
