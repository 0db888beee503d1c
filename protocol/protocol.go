// Package protocol defines the JSON wire shapes exchanged with clients.
// Outbound traffic is either a batch (a JSON array of updates) or a
// bare error object, distinguishable at the top level. Positions on the
// wire are GeoJSON-ordered: [lon, lat].
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	validator "gopkg.in/go-playground/validator.v9"

	"github.com/GeeoIO/geeo-server/constants"
)

// Update is one element of an outbound batch. Exactly one of AgentID /
// POIID is set. Entered and Left are mutually exclusive and both absent
// on a plain move.
type Update struct {
	AgentID    string          `json:"agent_id,omitempty"`
	POIID      string          `json:"poi_id,omitempty"`
	Pos        []float64       `json:"pos,omitempty"`
	Entered    bool            `json:"entered,omitempty"`
	Left       bool            `json:"left,omitempty"`
	PublicData json.RawMessage `json:"publicData,omitempty"`
	Creator    string          `json:"creator,omitempty"`
}

// EntityID returns the id of the point entity the update refers to.
func (u *Update) EntityID() string {
	if u.AgentID != "" {
		return u.AgentID
	}
	return u.POIID
}

// Transition reports whether the update is an enter/leave edge rather
// than a plain move. Plain moves may be superseded by a newer position;
// transitions may not.
func (u *Update) Transition() bool {
	return u.Entered || u.Left
}

// ErrorMessage is the bare outbound error object.
type ErrorMessage struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Wire error codes.
const (
	CodeInvalidArgument  = "InvalidArgument"
	CodeNotFound         = "NotFound"
	CodeAlreadyExists    = "AlreadyExists"
	CodePermissionDenied = "PermissionDenied"
	CodeInternal         = "InternalError"
)

// ErrorFor maps a command error onto its wire shape.
func ErrorFor(err error) ErrorMessage {
	code := CodeInternal
	switch {
	case errors.Is(err, constants.ErrInvalidArgument):
		code = CodeInvalidArgument
	case errors.Is(err, constants.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, constants.ErrAlreadyExists):
		code = CodeAlreadyExists
	case errors.Is(err, constants.ErrPermissionDenied),
		errors.Is(err, constants.ErrSessionAlreadyBound):
		code = CodePermissionDenied
	}
	return ErrorMessage{Error: code, Message: err.Error()}
}

// CreatePOI is the payload of an inbound createPOI command.
type CreatePOI struct {
	ID         string          `json:"poi_id" validate:"required"`
	Pos        []float64       `json:"pos" validate:"required,len=2"`
	PublicData json.RawMessage `json:"publicData,omitempty"`
}

// RemovePOI is the payload of an inbound removePOI command.
type RemovePOI struct {
	ID string `json:"poi_id" validate:"required"`
}

// CreateAirBeacon is the payload of an inbound createAirBeacon command.
type CreateAirBeacon struct {
	ID         string          `json:"ab_id" validate:"required"`
	Pos        []float64       `json:"pos" validate:"required,len=4"`
	PublicData json.RawMessage `json:"publicData,omitempty"`
}

// RemoveAirBeacon is the payload of an inbound removeAirBeacon command.
type RemoveAirBeacon struct {
	ID string `json:"ab_id" validate:"required"`
}

// Command is one inbound client message. Several fields may be set at
// once (a combined agent+view move); an empty command is rejected.
type Command struct {
	AgentPosition   []float64        `json:"agentPosition,omitempty" validate:"omitempty,len=2"`
	ViewPosition    []float64        `json:"viewPosition,omitempty" validate:"omitempty,len=4"`
	CreatePOI       *CreatePOI       `json:"createPOI,omitempty"`
	RemovePOI       *RemovePOI       `json:"removePOI,omitempty"`
	CreateAirBeacon *CreateAirBeacon `json:"createAirBeacon,omitempty"`
	RemoveAirBeacon *RemoveAirBeacon `json:"removeAirBeacon,omitempty"`
}

var validate = validator.New()

// Decode parses and validates one inbound message.
func Decode(data []byte) (*Command, error) {
	cmd := &Command{}
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("malformed message: %w", constants.ErrInvalidArgument)
	}
	if cmd.AgentPosition == nil && cmd.ViewPosition == nil &&
		cmd.CreatePOI == nil && cmd.RemovePOI == nil &&
		cmd.CreateAirBeacon == nil && cmd.RemoveAirBeacon == nil {
		return nil, fmt.Errorf("empty command: %w", constants.ErrInvalidArgument)
	}
	// nil sub-command pointers are skipped, non-nil ones are validated
	// through their own tags
	if err := validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), constants.ErrInvalidArgument)
	}
	return cmd, nil
}

// LatLon splits a wire [lon, lat] pair.
func LatLon(pos []float64) (lat, lon float64) {
	return pos[1], pos[0]
}

// LonLat builds the wire [lon, lat] pair.
func LonLat(lat, lon float64) []float64 {
	return []float64{lon, lat}
}

// QuadCorners splits a wire [lon1, lat1, lon2, lat2] rectangle into its
// corner coordinates.
func QuadCorners(pos []float64) (lat1, lat2, lon1, lon2 float64) {
	return pos[1], pos[3], pos[0], pos[2]
}
