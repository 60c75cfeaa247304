package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/daemon"
	"github.com/ortler/ortler/internal/model"
	"github.com/ortler/ortler/internal/syncer"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	config := &Config{
		Port:   0, // Use random available port
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	}
	server := NewServer(config)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	// Give server time to start
	time.Sleep(100 * time.Millisecond)
	return server
}

func connectClient(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws://" + server.GetAddr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	// Read welcome message
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := startTestServer(t)

	if addr := server.GetAddr(); addr == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnection(t *testing.T) {
	server := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Errorf("Expected welcome message type %s, got %s", MessageTypeStats, msg.Type)
	}
}

func TestMultipleClients(t *testing.T) {
	server := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	numClients := 3
	for i := 0; i < numClients; i++ {
		connectClient(t, ctx, server)
	}

	if count := server.ClientCount(); count != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, count)
	}
}

func TestMessageBroadcast(t *testing.T) {
	server := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := connectClient(t, ctx, server)

	testData := RecordUpdateData{
		Kind:   "submissions",
		Key:    "sub1",
		Action: "create",
	}
	dataJSON, _ := json.Marshal(testData)
	server.Broadcast(Message{
		Type:      MessageTypeRecordUpdate,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	received := readMessage(t, ctx, conn)
	if received.Type != MessageTypeRecordUpdate {
		t.Errorf("Expected message type %s, got %s", MessageTypeRecordUpdate, received.Type)
	}

	var receivedData RecordUpdateData
	if err := json.Unmarshal(received.Data, &receivedData); err != nil {
		t.Fatalf("Failed to unmarshal record data: %v", err)
	}
	if receivedData.Key != testData.Key {
		t.Errorf("Expected key %s, got %s", testData.Key, receivedData.Key)
	}
}

func TestHandlerCacheEvents(t *testing.T) {
	server := startTestServer(t)
	handler := NewHandler(server, log.New(os.Stderr, "[test-handler] ", log.LstdFlags))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := connectClient(t, ctx, server)

	handler.OnCacheEvents([]daemon.CacheEvent{
		{Kind: cache.KindSubmission, Key: "sub1", Op: daemon.OpCreate},
		{Kind: "", Key: "metadata", Op: daemon.OpModify},
	})

	first := readMessage(t, ctx, conn)
	if first.Type != MessageTypeRecordUpdate {
		t.Errorf("Expected message type %s, got %s", MessageTypeRecordUpdate, first.Type)
	}
	var recordData RecordUpdateData
	if err := json.Unmarshal(first.Data, &recordData); err != nil {
		t.Fatalf("Failed to unmarshal record data: %v", err)
	}
	if recordData.Kind != "submissions" || recordData.Key != "sub1" || recordData.Action != "create" {
		t.Errorf("Record data mismatch: %+v", recordData)
	}

	second := readMessage(t, ctx, conn)
	if err := json.Unmarshal(second.Data, &recordData); err != nil {
		t.Fatalf("Failed to unmarshal record data: %v", err)
	}
	if recordData.Kind != "cache" || recordData.Key != "metadata" {
		t.Errorf("Root-level record data mismatch: %+v", recordData)
	}
}

func TestHandlerSyncComplete(t *testing.T) {
	server := startTestServer(t)
	handler := NewHandler(server, log.New(os.Stderr, "[test-handler] ", log.LstdFlags))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := connectClient(t, ctx, server)

	handler.OnSyncComplete(&syncer.Report{
		Mode:            syncer.ModeIncremental,
		StartedAt:       time.UnixMilli(1000),
		FinishedAt:      time.UnixMilli(3000),
		NewSubmissions:  4,
		ProfilesUpdated: 2,
		Watermark:       1000,
	})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Errorf("Expected message type %s, got %s", MessageTypeSyncComplete, msg.Type)
	}

	var syncData SyncCompleteData
	if err := json.Unmarshal(msg.Data, &syncData); err != nil {
		t.Fatalf("Failed to unmarshal sync data: %v", err)
	}
	if syncData.NewSubmissions != 4 {
		t.Errorf("Expected 4 new submissions, got %d", syncData.NewSubmissions)
	}
	if syncData.Duration != 2*time.Second {
		t.Errorf("Expected 2s duration, got %v", syncData.Duration)
	}

	// A stats broadcast follows each sync completion.
	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Errorf("Expected message type %s, got %s", MessageTypeStats, msg.Type)
	}
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Watermark != 1000 || stats.SyncRuns != 1 {
		t.Errorf("Stats mismatch: %+v", stats)
	}
}

func TestHandlerRefreshStats(t *testing.T) {
	server := startTestServer(t)
	handler := NewHandler(server, log.New(os.Stderr, "[test-handler] ", log.LstdFlags))

	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Put(cache.KindSubmission, "sub1", model.Submission{ID: "sub1"}); err != nil {
		t.Fatalf("put submission: %v", err)
	}
	if err := store.Put(cache.KindProfile, "~A_One1", model.Profile{ID: "~A_One1"}); err != nil {
		t.Fatalf("put profile: %v", err)
	}
	if err := store.SaveMetadata(cache.Metadata{LastUpdate: 5000}); err != nil {
		t.Fatalf("save metadata: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := connectClient(t, ctx, server)

	handler.RefreshStats(store, 7)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Errorf("Expected message type %s, got %s", MessageTypeStats, msg.Type)
	}
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Total != 2 || stats.ByKind["submissions"] != 1 || stats.ByKind["profiles"] != 1 {
		t.Errorf("Stats counts mismatch: %+v", stats)
	}
	if stats.SyncRuns != 7 || stats.Watermark != 5000 {
		t.Errorf("Stats mismatch: %+v", stats)
	}
}
