package operator

import (
	"encoding/json"
	"strconv"

	"github.com/fleetops/refilld/internal/model"
)

// flexInt unmarshals a JSON number or a numeric string into an int, since
// spec §6 documents drf-submit's kilometers field as "integer|string".
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var asNumber int
	if err := json.Unmarshal(b, &asNumber); err == nil {
		*n = flexInt(asNumber)
		return nil
	}
	var asString string
	if err := json.Unmarshal(b, &asString); err != nil {
		return err
	}
	v, err := strconv.Atoi(asString)
	if err != nil {
		return err
	}
	*n = flexInt(v)
	return nil
}

// ── Request bodies ──

type drfSubmitRequest struct {
	Kilometers flexInt `json:"kilometers"`
}

type authRequest struct {
	Username string `json:"username"`
	Response string `json:"response"`
}

type operationRequest struct {
	Request    string `json:"request"`
	Kilometers int    `json:"kilometers,omitempty"`
}

type uartRequest struct {
	Verb string   `json:"verb"`
	Args []string `json:"args,omitempty"`
}

// ── Response bodies ──

type errorResponse struct {
	Error        string     `json:"error"`
	CurrentState model.State `json:"currentState,omitempty"`
	AllowedState model.State `json:"allowedState,omitempty"`
}

type fillResponse struct {
	State model.State `json:"state"`
}

type stateResponse struct {
	State         model.State         `json:"state"`
	PreviousState model.State         `json:"previousState"`
	Timestamp     int64               `json:"timestamp"`
	Transaction   *model.Transaction  `json:"transaction"`
	Vehicle       *model.VehicleRecord `json:"vehicle"`
	Meter         model.MeterSnapshot `json:"meter"`
	Message       string              `json:"message"`
}

type authResponse struct {
	Token string `json:"token"`
}

type hlsResponse struct {
	HLSID       string `json:"hlsId"`
	MeterRead   string `json:"meterRead"`
	Denominator string `json:"denominator"`
	Timestamp   int64  `json:"timestamp"`
}

type uploadResponse struct {
	Path string `json:"path"`
}
