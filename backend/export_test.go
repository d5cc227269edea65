package backend

// SetIntNForTest replaces the dispatcher's random draw with a deterministic
// one. Test-only.
func (d *Dispatcher) SetIntNForTest(f func(n int) int) {
	d.intN = f
}
