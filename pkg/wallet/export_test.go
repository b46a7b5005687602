package wallet

// LockedProposals is the number of proposal locks currently tracked
func (w *Wallet) LockedProposals() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.locks)
}
