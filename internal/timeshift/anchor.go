package timeshift

import "time"

// anchor implements the playout clock described in §4.2: a
// (reference_arrival, reference_playout) pair. The scheduled playout of an
// entry e is:
//
//	reference_playout + (e.arrival_instant - reference_arrival) + offset + delay
//
// where offset/delay are the consuming SIP's timeshift_offset and delay
// (applied by the caller, not here — anchor only knows about the tag).
type anchor struct {
	referenceArrival time.Duration
	referencePlayout time.Duration
	armed            bool

	cumulativeAdjustment time.Duration // signed, reported per stream (§4.2, §8 scenario 3)
}

// arm sets the anchor the first time a tag is seen, or re-arms it after a
// moderate discontinuity (§4.2 "Discontinuity handling").
func (a *anchor) arm(arrivalNow, playoutNow time.Duration) {
	a.referenceArrival = arrivalNow
	a.referencePlayout = playoutNow
	a.armed = true
}

func (a *anchor) scheduledPlayout(arrival time.Duration) time.Duration {
	if !a.armed {
		return arrival
	}
	return a.referencePlayout + (arrival - a.referenceArrival)
}

// nudge adjusts the anchor by a fraction of the observed arrival-time error
// (scheduled vs actual), per §4.2: "the anchor is nudged by a small fraction
// of the error; cumulative adjustment is reported per stream."
func (a *anchor) nudge(errDuration time.Duration, fraction float64) {
	adj := time.Duration(float64(errDuration) * fraction)
	a.referencePlayout += adj
	a.cumulativeAdjustment += adj
}
