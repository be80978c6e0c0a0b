// Package protocol defines the JSON envelope exchanged over the relay.
//
// Every frame is one JSON object with a "type" tag and, except for some
// relay acknowledgements, a "deviceId". Decode parses just those two
// fields; type-specific fields are read on demand with Envelope.Payload.
//
//	{"type":"coin-inserted","deviceId":"SSCM-ABC123","coinValue":5}
//	{"type":"device-update","deviceId":"SSCM-ABC123","data":{"paired":true,"pairingCode":null,"pairedAt":"..."}}
package protocol
