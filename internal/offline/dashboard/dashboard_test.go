package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/db"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
	offsync "github.com/lunaria-app/lunaria/internal/offline/sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStatus struct {
	mu    sync.Mutex
	state offsync.State
	hooks []func(from, to offsync.State)
}

func (f *fakeStatus) Status() offsync.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return offsync.Status{PendingItems: 2, Frequency: schema.FrequencyWeekly, State: f.state.String()}
}

func (f *fakeStatus) OnStateChange(fn func(from, to offsync.State)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, fn)
	return func() {}
}

func (f *fakeStatus) set(s offsync.State) {
	f.mu.Lock()
	from := f.state
	f.state = s
	hooks := append([]func(from, to offsync.State){}, f.hooks...)
	f.mu.Unlock()
	for _, fn := range hooks {
		fn(from, s)
	}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "luna.db"), db.Options{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	c := cache.New(database, cache.Options{Logger: testLogger()})
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("failed to load cache: %v", err)
	}
	return c
}

// startTestServer serves the dashboard through httptest.
func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer(&Config{Logger: testLogger()})
	srv.Run()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("failed to connect websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	return msg
}

// readUntil skips messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ MessageType) Message {
	t.Helper()
	for range 20 {
		if msg := readMessage(t, conn); msg.Type == typ {
			return msg
		}
	}
	t.Fatalf("no %s message received", typ)
	return Message{}
}

func TestServerStartStop(t *testing.T) {
	srv := NewServer(&Config{Port: 0, Logger: testLogger()})
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	if addr := srv.Addr(); !strings.HasPrefix(addr, "127.0.0.1:") || strings.HasSuffix(addr, ":0") {
		t.Errorf("Addr() = %q", addr)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}
}

func TestWelcomeIsStatus(t *testing.T) {
	srv, url := startTestServer(t)
	NewHandler(srv, &fakeStatus{}, testLogger())

	conn := dial(t, url)
	msg := readMessage(t, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("welcome type = %s", msg.Type)
	}
	var st offsync.Status
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.PendingItems != 2 || st.Frequency != schema.FrequencyWeekly || st.State != "idle" {
		t.Errorf("status = %+v", st)
	}
	if n := srv.ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d", n)
	}
}

func TestRecordChangeBroadcast(t *testing.T) {
	srv, url := startTestServer(t)
	c := newTestCache(t)
	h := NewHandler(srv, &fakeStatus{}, testLogger())
	detach := h.Attach(c)
	defer detach()

	conns := []*websocket.Conn{dial(t, url), dial(t, url)}
	for _, conn := range conns {
		readMessage(t, conn)
	}

	log := &schema.DailyLog{ID: "rec_1", UserID: "u1", Date: "2024-10-04", Flow: schema.FlowMedium, UpdatedAt: time.Now()}
	if err := c.Set(log); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(schema.TableDailyLogs, "rec_1"); err != nil {
		t.Fatal(err)
	}

	for _, conn := range conns {
		var saved, deleted RecordChangeData
		if err := json.Unmarshal(readUntil(t, conn, MessageTypeRecordChange).Data, &saved); err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal(readUntil(t, conn, MessageTypeRecordChange).Data, &deleted); err != nil {
			t.Fatal(err)
		}
		if saved.Action != "saved" || saved.Table != schema.TableDailyLogs || saved.RecordID != "rec_1" || len(saved.Record) == 0 {
			t.Errorf("saved = %+v", saved)
		}
		if deleted.Action != "deleted" || deleted.Record != nil {
			t.Errorf("deleted = %+v", deleted)
		}
	}
}

func TestSettingsChangesNotBroadcast(t *testing.T) {
	// Not running, so anything broadcast stays in the channel.
	srv := NewServer(&Config{Logger: testLogger()})
	h := NewHandler(srv, &fakeStatus{}, testLogger())

	h.OnChange(cache.Change{Kind: cache.ChangeSet, Table: schema.TableSettings, Key: "k"})
	h.OnChange(cache.Change{Kind: cache.ChangeSet, Table: schema.TableAliases, Key: "local_x"})
	select {
	case msg := <-srv.broadcast:
		t.Errorf("unexpected broadcast %s", msg.Type)
	default:
	}
}

func TestStatusOnStateChange(t *testing.T) {
	srv, url := startTestServer(t)
	c := newTestCache(t)
	st := &fakeStatus{}
	defer NewHandler(srv, st, testLogger()).Attach(c)()

	conn := dial(t, url)
	readMessage(t, conn)

	st.set(offsync.StatePulling)
	msg := readUntil(t, conn, MessageTypeStatus)
	var got offsync.Status
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.State != "pulling" {
		t.Errorf("state = %q, want pulling", got.State)
	}
}

func TestSyncCompleteBroadcast(t *testing.T) {
	srv, url := startTestServer(t)
	h := NewHandler(srv, &fakeStatus{}, testLogger())
	conn := dial(t, url)
	readMessage(t, conn)

	start := time.Now()
	h.OnSyncComplete(offsync.Result{
		Success: 3, Failed: 1, Pending: 2,
		Err:       errors.New("push interrupted: offline"),
		StartedAt: start, FinishedAt: start.Add(250 * time.Millisecond),
	})

	var data SyncCompleteData
	if err := json.Unmarshal(readUntil(t, conn, MessageTypeSyncComplete).Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Success != 3 || data.Failed != 1 || data.Pending != 2 || data.Duration != 250*time.Millisecond {
		t.Errorf("data = %+v", data)
	}
	if data.Error == "" {
		t.Error("error should be reported")
	}
}

func TestClientDisconnect(t *testing.T) {
	srv, url := startTestServer(t)
	conn := dial(t, url)
	readMessage(t, conn)
	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d after disconnect", srv.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
