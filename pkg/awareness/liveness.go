package awareness

// StartLiveness re-broadcasts the local entry every renew interval and drops
// remote entries that went quiet for longer than the stale timeout. It runs
// on the registry's scheduler until Close.
func (r *Registry) StartLiveness() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.ticker != nil || r.renewInterval <= 0 {
		return
	}
	r.ticker = r.sched.AfterFunc(r.renewInterval, r.tick)
}

func (r *Registry) tick() {
	r.Renew()
	r.RemoveStale(r.sched.Now())

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.ticker = r.sched.AfterFunc(r.renewInterval, r.tick)
}

// Close stops liveness and drops every subscriber. It does not broadcast a
// leave; call Leave first for a clean exit.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
	r.mu.Unlock()

	r.obs.Clear()
}
