package server_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"

	"github.com/daneralejandro03/geolocation-backend/internal/dispatch"
	"github.com/daneralejandro03/geolocation-backend/internal/follow"
	"github.com/daneralejandro03/geolocation-backend/internal/identity"
	"github.com/daneralejandro03/geolocation-backend/internal/server"
	"github.com/daneralejandro03/geolocation-backend/internal/server/middleware"
	"github.com/daneralejandro03/geolocation-backend/pkg/config"
)

const testSecret = "test-secret"

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Address: ":0",
			Auth:    config.AuthConfig{JWTSecret: testSecret},
			Session: config.SessionConfig{Mode: config.SessionModeSupersede},
		},
		Transport: config.TransportConfig{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// startTestServer brings up the full handshake + dispatch stack on an
// httptest server with one reporter (id 1) followed by one observer (id 2).
func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	directory := identity.NewInMemoryDirectory()
	directory.Put(identity.Identity{ID: 1, Name: "Courier One", Role: identity.RoleReporter})
	directory.Put(identity.Identity{ID: 2, Name: "Dispatch Admin", Role: identity.RoleObserver})
	graph := follow.NewInMemoryGraph()
	if err := graph.Follow(2, 1); err != nil {
		t.Fatal(err)
	}

	app := server.NewApp(newTestLogger(), context.Background(), testConfig(), directory, graph)
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/geolocation"
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server, subject string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+signToken(t, subject))
	conn, _, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial as subject %s failed: %v", subject, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) dispatch.ClientMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg dispatch.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal frame %q: %v", data, err)
	}
	return msg
}

func TestHandshakeWithoutCredentialIsRejected(t *testing.T) {
	srv := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
		t.Fatal("handshake without credential completed the upgrade")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake response = %+v, want 401", resp)
	}
}

func TestLocationRoundTrip(t *testing.T) {
	srv := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	observer := dial(t, ctx, srv, "2")
	reporterConn := dial(t, ctx, srv, "1")

	frame := []byte(`{"event":"sendLocation","payload":{"latitude":4.8133,"longitude":-75.496}}`)
	if err := reporterConn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ackMsg := readEnvelope(t, ctx, reporterConn)
	if ackMsg.Event != dispatch.EventAck {
		t.Fatalf("reporter received %q, want ack", ackMsg.Event)
	}
	var ack dispatch.Ack
	if err := json.Unmarshal(ackMsg.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if !ack.Success || ack.Recipients != 1 {
		t.Errorf("ack = %+v, want success with 1 recipient", ack)
	}

	locMsg := readEnvelope(t, ctx, observer)
	if locMsg.Event != dispatch.EventNewLocation {
		t.Fatalf("observer received %q, want newLocation", locMsg.Event)
	}
	var loc dispatch.LocationEvent
	if err := json.Unmarshal(locMsg.Payload, &loc); err != nil {
		t.Fatal(err)
	}
	if loc.UserID != 1 || loc.Latitude != 4.8133 || loc.Longitude != -75.496 {
		t.Errorf("location = %+v", loc)
	}
}

func TestObserverSendIsRefusedOverTheWire(t *testing.T) {
	srv := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	observer := dial(t, ctx, srv, "2")
	frame := []byte(`{"event":"sendLocation","payload":{"latitude":1,"longitude":1}}`)
	if err := observer.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ackMsg := readEnvelope(t, ctx, observer)
	var ack dispatch.Ack
	if err := json.Unmarshal(ackMsg.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Success || ack.Error == "" {
		t.Errorf("ack = %+v, want role error", ack)
	}
}

func TestReconnectSupersedesOverTheWire(t *testing.T) {
	srv := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := dial(t, ctx, srv, "1")

	// Round-trip one event so the first session is definitely registered
	// before the second handshake starts.
	frame0 := []byte(`{"event":"sendLocation","payload":{"latitude":0,"longitude":0}}`)
	if err := first.Write(ctx, websocket.MessageText, frame0); err != nil {
		t.Fatalf("write on first connection failed: %v", err)
	}
	if msg := readEnvelope(t, ctx, first); msg.Event != dispatch.EventAck {
		t.Fatalf("first connection received %q, want ack", msg.Event)
	}

	second := dial(t, ctx, srv, "1")

	// The superseded session is force-closed by the server.
	if _, _, err := first.Read(ctx); err == nil {
		t.Error("superseded connection still delivered a frame")
	}

	// The latest session keeps working.
	frame := []byte(`{"event":"sendLocation","payload":{"latitude":1,"longitude":1}}`)
	if err := second.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write on latest connection failed: %v", err)
	}
	ackMsg := readEnvelope(t, ctx, second)
	var ack dispatch.Ack
	if err := json.Unmarshal(ackMsg.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if !ack.Success {
		t.Errorf("latest connection ack = %+v, want success", ack)
	}
}
