package latency

import (
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

// DeliveryEstimator is a client-side diagnostic: it compares when the audio
// behind a transcript was captured with when the transcript arrived.
// Values are informational and never feed back into control flow.
type DeliveryEstimator struct {
	sessionStart time.Time
	audioStart   time.Time
	gotFirstText bool
}

// NewDeliveryEstimator creates an estimator whose time-to-first-text is measured from sessionStart
func NewDeliveryEstimator(sessionStart time.Time) *DeliveryEstimator {
	return &DeliveryEstimator{sessionStart: sessionStart}
}

// AudioStarted sets the local audio reference point (the first captured chunk). Only the first call counts.
func (d *DeliveryEstimator) AudioStarted(at time.Time) {
	if d.audioStart.IsZero() {
		d.audioStart = at
	}
}

// FirstText returns the time from session start to the first non-empty transcript, once
func (d *DeliveryEstimator) FirstText(arrival time.Time) (int64, bool) {
	if d.gotFirstText {
		return 0, false
	}
	d.gotFirstText = true
	return Millis(arrival.Sub(d.sessionStart)), true
}

// Observe returns arrival minus the moment the transcript's audio ended,
// measured on the local capture timeline. It reports false until audio has started.
func (d *DeliveryEstimator) Observe(audioEndSec float64, arrival time.Time) (int64, bool) {
	if d.audioStart.IsZero() {
		return 0, false
	}
	due := d.audioStart.Add(time.Duration(audioEndSec * float64(time.Second)))
	return Millis(arrival.Sub(due)), true
}

// AudioEnd returns the end of the audio a result covers, in seconds from
// stream start: the last word's end offset when word timings are present,
// otherwise start + duration.
func AudioEnd(msg *msginterfaces.MessageResponse) (float64, bool) {
	if msg == nil {
		return 0, false
	}
	if len(msg.Channel.Alternatives) > 0 {
		words := msg.Channel.Alternatives[0].Words
		if len(words) > 0 {
			return words[len(words)-1].End, true
		}
	}
	if msg.Duration > 0 {
		return msg.Start + msg.Duration, true
	}
	return 0, false
}
