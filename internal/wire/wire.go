// Package wire defines the JSON frame vocabulary spoken on the two persistent
// channels: the single upstream glasses channel and the per-app channels.
//
// Every frame is a JSON object with a "type" discriminator. Inbound frames are
// parsed into one concrete struct per type (ParseUpstream, ParseAppMessage) so
// the dispatchers can switch exhaustively instead of duck-typing maps.
package wire

import "time"

// ErrorCode is a wire-visible error code delivered in CONNECTION_ERROR frames
// and HTTP error responses at the connection edge.
type ErrorCode string

const (
	ErrorInvalidJWT         ErrorCode = "INVALID_JWT"
	ErrorJWTSignatureFailed ErrorCode = "JWT_SIGNATURE_FAILED"
	ErrorPackageNotFound    ErrorCode = "PACKAGE_NOT_FOUND"
	ErrorInvalidAPIKey      ErrorCode = "INVALID_API_KEY"
	ErrorSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	ErrorMalformedMessage   ErrorCode = "MALFORMED_MESSAGE"
	ErrorPermissionDenied   ErrorCode = "PERMISSION_DENIED"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
	ErrorWifiNotConnected   ErrorCode = "WIFI_NOT_CONNECTED"
)

// ClosePolicyViolation is the websocket close code used when an app channel is
// terminated after a CONNECTION_ERROR frame.
const ClosePolicyViolation = 1008

// RequiredData names an audio shape the session needs from the glasses.
type RequiredData string

const (
	RequiredDataPCM                RequiredData = "pcm"
	RequiredDataTranscription      RequiredData = "transcription"
	RequiredDataPCMOrTranscription RequiredData = "pcm_or_transcription"
)

// LocationRate is the location stream cadence requested by an app.
type LocationRate string

const (
	LocationRateStandard       LocationRate = "standard"
	LocationRateHigh           LocationRate = "high"
	LocationRateRealtime       LocationRate = "realtime"
	LocationRateTenMeters      LocationRate = "tenMeters"
	LocationRateHundredMeters  LocationRate = "hundredMeters"
	LocationRateKilometer      LocationRate = "kilometer"
	LocationRateThreeKilometer LocationRate = "threeKilometers"
	LocationRateReduced        LocationRate = "reduced"
)

// ValidLocationRate reports whether s is a known location rate.
func ValidLocationRate(s string) bool {
	switch LocationRate(s) {
	case LocationRateStandard, LocationRateHigh, LocationRateRealtime,
		LocationRateTenMeters, LocationRateHundredMeters,
		LocationRateKilometer, LocationRateThreeKilometer, LocationRateReduced:
		return true
	}
	return false
}

// Now returns the timestamp stamped onto outbound frames.
// A variable so tests can pin it.
var Now = func() time.Time { return time.Now().UTC() }
