package attempt

// proctor is the visibility listener of a taking session. It only reacts
// while listening, which the session keeps equal to the ACTIVE state.
type proctor struct {
	listening bool
	violated  bool // sticky
	count     int
	displayed bool
}

func (p *proctor) start() { p.listening = true }
func (p *proctor) stop()  { p.listening = false }

// hidden registers a violation. It reports whether the warning needs to be
// surfaced, i.e. it was not already on screen.
func (p *proctor) hidden() bool {
	p.violated = true
	p.count++
	if p.displayed {
		return false
	}
	p.displayed = true
	return true
}

// dismiss hides the warning. The violation itself stays recorded.
func (p *proctor) dismiss() bool {
	if !p.displayed {
		return false
	}
	p.displayed = false
	return true
}
