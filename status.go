package fibrescan

// Tristate is a three-valued flag: yes, no, or unset. Unset means "do not
// attempt to answer" when used as an input and "unknown" when used as an
// outcome (e.g. a robots decision that was never consulted).
type Tristate int

// Tristate values.
const (
	Unset Tristate = iota
	Yes
	No
)

// TristateOf converts a bool to its Tristate equivalent.
func TristateOf(b bool) Tristate {
	if b {
		return Yes
	}
	return No
}

// Bool reports the underlying value; ok is false when the flag is unset.
func (t Tristate) Bool() (value, ok bool) {
	switch t {
	case Yes:
		return true, true
	case No:
		return false, true
	}
	return false, false
}

// String returns "yes", "no" or the empty string for unset.
func (t Tristate) String() string {
	switch t {
	case Yes:
		return "yes"
	case No:
		return "no"
	}
	return ""
}

// StatusEvent is one append-only audit record. Sessions append events as
// they progress and the orchestrator concatenates them; an event is never
// mutated after creation.
type StatusEvent struct {
	Provider string   // provider key (host without www)
	URL      string   // URL the event refers to
	Step     string   // short tag, e.g. "navigated_a1", "robots_blocked_initial_a1"
	Detail   string   // free text
	Allowed  Tristate // robots decision at the time of the event
	Goto     int      // pages navigated so far in this attempt
	Steps    int      // wizard progress actions taken so far in this attempt
}

// Counters tracks per-attempt navigation effort. Counters are mutated only
// by the session driving the attempt and reset for each retry attempt.
type Counters struct {
	Goto  int // pages navigated
	Steps int // wizard progress actions taken
}

// Event builds a StatusEvent stamped with the current counter values.
func (c *Counters) Event(provider, url, step, detail string, allowed Tristate) StatusEvent {
	return StatusEvent{
		Provider: provider,
		URL:      url,
		Step:     step,
		Detail:   detail,
		Allowed:  allowed,
		Goto:     c.Goto,
		Steps:    c.Steps,
	}
}
