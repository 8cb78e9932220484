// Package dispatch routes inbound frames from admitted connections and fans
// location updates out to the sender's connected followers.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/daneralejandro03/geolocation-backend/internal/follow"
	"github.com/daneralejandro03/geolocation-backend/internal/identity"
	"github.com/daneralejandro03/geolocation-backend/internal/registry"
)

var (
	// ErrUnauthenticatedConnection means the connection has no registry entry.
	// The handshake gate should make this unreachable; it is handled anyway.
	ErrUnauthenticatedConnection = errors.New("no authenticated user for this connection")
	// ErrInvalidPayload means the location payload is malformed or out of range.
	ErrInvalidPayload = errors.New("invalid location payload")
	// ErrRoleNotPermitted means the sender's role may not report locations.
	ErrRoleNotPermitted = errors.New("action not permitted for this role")
	// ErrUnknownEvent means the envelope named an event nobody handles.
	ErrUnknownEvent = errors.New("unknown event")
)

// Dispatcher handles one inbound message end to end. It reads the registry
// and the follow graph and owns no state of its own, so a single instance
// serves every connection concurrently.
type Dispatcher struct {
	logger   *slog.Logger
	registry *registry.Registry
	graph    follow.Graph
	now      func() time.Time
}

func New(logger *slog.Logger, reg *registry.Registry, graph follow.Graph) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With(slog.String("component", "dispatcher")),
		registry: reg,
		graph:    graph,
		now:      time.Now,
	}
}

// HandleMessage parses one frame from conn and replies with an ack on the
// same connection. Event failures never close the connection.
func (d *Dispatcher) HandleMessage(ctx context.Context, conn registry.Conn, msg []byte) {
	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		d.logger.Warn("failed to unmarshal client message",
			slog.String("connID", conn.ID().String()), slog.Any("error", err))
		d.sendAck(conn, Ack{Error: "malformed message envelope"})
		return
	}

	switch clientMsg.Event {
	case EventSendLocation:
		recipients, err := d.handleSendLocation(ctx, conn, clientMsg.Payload)
		if err != nil {
			d.logger.Warn("sendLocation rejected",
				slog.String("connID", conn.ID().String()), slog.Any("error", err))
			d.sendAck(conn, Ack{Error: err.Error()})
			return
		}
		d.sendAck(conn, Ack{Success: true, Message: "location sent", Recipients: recipients})
	default:
		d.logger.Warn("received unknown event",
			slog.String("event", clientMsg.Event), slog.String("connID", conn.ID().String()))
		d.sendAck(conn, Ack{Error: ErrUnknownEvent.Error()})
	}
}

// handleSendLocation validates and broadcasts one location update, returning
// how many followers were pushed to.
func (d *Dispatcher) handleSendLocation(ctx context.Context, conn registry.Conn, payload []byte) (int, error) {
	// The sender is whoever the registry says owns this connection. Identity
	// claims inside the payload are never trusted.
	sender, ok := d.registry.IdentityOf(conn.ID())
	if !ok {
		return 0, ErrUnauthenticatedConnection
	}

	lat, lon, err := parseCoordinates(payload)
	if err != nil {
		return 0, err
	}

	if sender.Role != identity.RoleReporter {
		return 0, ErrRoleNotPermitted
	}

	followerIDs, err := d.graph.FollowersOf(ctx, sender.ID)
	if err != nil {
		return 0, fmt.Errorf("follower lookup failed: %w", err)
	}

	frame, err := marshalEnvelope(EventNewLocation, LocationEvent{
		UserID:    sender.ID,
		Name:      sender.Name,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: d.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal location event: %w", err)
	}

	// Best-effort fan-out: offline followers are skipped, and a slow or dying
	// recipient must not hold up the rest or fail the operation.
	recipients := 0
	for _, followerID := range followerIDs {
		followerConn, online := d.registry.ConnectionOf(followerID)
		if !online {
			continue
		}
		followerConn.Send(frame)
		recipients++
	}

	d.logger.Info("location broadcast",
		slog.Int64("senderID", sender.ID),
		slog.Int("followers", len(followerIDs)),
		slog.Int("recipients", recipients),
	)
	return recipients, nil
}

// parseCoordinates pulls latitude/longitude out of the raw payload,
// distinguishing missing fields and wrong types from range violations.
func parseCoordinates(payload []byte) (lat, lon float64, err error) {
	latRes := gjson.GetBytes(payload, "latitude")
	lonRes := gjson.GetBytes(payload, "longitude")
	if !latRes.Exists() || !lonRes.Exists() {
		return 0, 0, fmt.Errorf("%w: latitude and longitude are required", ErrInvalidPayload)
	}
	if latRes.Type != gjson.Number || lonRes.Type != gjson.Number {
		return 0, 0, fmt.Errorf("%w: latitude and longitude must be numbers", ErrInvalidPayload)
	}
	lat, lon = latRes.Float(), lonRes.Float()
	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("%w: latitude out of range", ErrInvalidPayload)
	}
	if lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("%w: longitude out of range", ErrInvalidPayload)
	}
	return lat, lon, nil
}

func (d *Dispatcher) sendAck(conn registry.Conn, ack Ack) {
	frame, err := marshalEnvelope(EventAck, ack)
	if err != nil {
		d.logger.Error("failed to marshal ack", slog.Any("error", err))
		return
	}
	conn.Send(frame)
}
