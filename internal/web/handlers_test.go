package web

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

	"github.com/gorilla/websocket"

	"echoweaver/server/internal/config"
	"echoweaver/server/internal/interfaces"
)

type stubSession struct {
	snapshot    interfaces.DreamSnapshot
	submitted   []string
	afterSubmit interfaces.DreamSnapshot
}

func (s *stubSession) Snapshot() interfaces.DreamSnapshot {
	return s.snapshot
}

func (s *stubSession) SubmitFragment(ctx context.Context, fragment string) {
	s.submitted = append(s.submitted, fragment)
	s.snapshot = s.afterSubmit
}

type stubPaths struct {
	files map[string]string
}

func (s *stubPaths) Path(name string) (string, error) {
	if path, ok := s.files[name]; ok {
		return path, nil
	}
	return "", os.ErrNotExist
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{GenerateTimeout: 5 * time.Second},
	}
}

func newTestServer(t *testing.T, session DreamSession, paths ImagePaths, hub *SnapshotHub) *httptest.Server {
	t.Helper()
	if hub == nil {
		hub = NewSnapshotHub()
		go hub.Run()
	}
	srv := httptest.NewServer(NewRouter(testConfig(), session, paths, hub))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, &stubSession{}, &stubPaths{}, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["service"] != "echoweaver" {
		t.Errorf("Expected service echoweaver, got %q", body["service"])
	}
}

func TestGetState(t *testing.T) {
	session := &stubSession{
		snapshot: interfaces.DreamSnapshot{
			Phase:     interfaces.PhaseActive,
			Narrative: "A door opens into fog.",
			ImageURL:  "/images/x.png",
		},
	}
	srv := newTestServer(t, session, &stubPaths{}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/dream/state")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var got interfaces.DreamSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if got != session.snapshot {
		t.Errorf("Expected %+v, got %+v", session.snapshot, got)
	}
}

func TestSubmitFragment(t *testing.T) {
	session := &stubSession{
		snapshot: interfaces.DreamSnapshot{Phase: interfaces.PhaseWelcome},
		afterSubmit: interfaces.DreamSnapshot{
			Phase:     interfaces.PhaseActive,
			Narrative: "A door opens into fog.",
		},
	}
	srv := newTestServer(t, session, &stubPaths{}, nil)

	resp, err := http.Post(srv.URL+"/api/v1/dream/fragment", "application/json",
		strings.NewReader(`{"fragment":"A door opens."}`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if len(session.submitted) != 1 || session.submitted[0] != "A door opens." {
		t.Errorf("Expected fragment forwarded, got %v", session.submitted)
	}

	var got interfaces.DreamSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if got.Narrative != "A door opens into fog." {
		t.Errorf("Expected settled snapshot, got %+v", got)
	}
}

func TestSubmitFragmentBadBody(t *testing.T) {
	session := &stubSession{}
	srv := newTestServer(t, session, &stubPaths{}, nil)

	resp, err := http.Post(srv.URL+"/api/v1/dream/fragment", "application/json",
		strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
	if len(session.submitted) != 0 {
		t.Errorf("Expected no submission, got %v", session.submitted)
	}
}

func TestServeImage(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "x.png")
	if err := os.WriteFile(imgPath, []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}

	paths := &stubPaths{files: map[string]string{"x.png": imgPath}}
	srv := newTestServer(t, &stubSession{}, paths, nil)

	resp, err := http.Get(srv.URL + "/images/x.png")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/images/unknown.png")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown image, got %d", resp.StatusCode)
	}
}

func TestStreamDeliversSnapshots(t *testing.T) {
	session := &stubSession{
		snapshot: interfaces.DreamSnapshot{Phase: interfaces.PhaseWelcome},
	}
	hub := NewSnapshotHub()
	go hub.Run()
	srv := newTestServer(t, session, &stubPaths{}, hub)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/dream/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	type streamMsg struct {
		Type string                   `json:"type"`
		Data interfaces.DreamSnapshot `json:"data"`
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var seed streamMsg
	if err := conn.ReadJSON(&seed); err != nil {
		t.Fatalf("Failed to read seed snapshot: %v", err)
	}
	if seed.Type != "snapshot" || seed.Data.Phase != interfaces.PhaseWelcome {
		t.Errorf("Unexpected seed message: %+v", seed)
	}

	update := interfaces.DreamSnapshot{
		Phase:     interfaces.PhaseActive,
		Narrative: "A door opens into fog.",
	}
	hub.Broadcast(update)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got streamMsg
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("Failed to read broadcast snapshot: %v", err)
	}
	if got.Data != update {
		t.Errorf("Expected %+v, got %+v", update, got.Data)
	}
}
