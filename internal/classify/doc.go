// Package classify drives one shoe classification from a kiosk.
//
// A Workflow waits for the relay connection and a camera sync report, sends
// a single start-classification per attempt and turns the camera's answer
// (or its silence) into a terminal success or error state:
//
//	connecting → syncing → classifying → success | error
//
// Retry starts a new attempt from a terminal state. Close disables
// classification on the board and releases every handler.
package classify
