package market

// The capability registry tracks two disjoint capabilities: the singular
// admin, fixed at engine construction, and an open set of signers whose
// membership is persisted in state and mutable by the admin only.

// IsAdmin reports whether the identity holds the admin capability.
func (e *Engine) IsAdmin(addr [20]byte) bool {
	return e != nil && addr == e.admin
}

// IsSigner reports whether the identity holds the signer capability.
func (e *Engine) IsSigner(addr [20]byte) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.state.SignerHas(addr)
}

// GrantSigner adds the identity to the signer set. Admin-only.
func (e *Engine) GrantSigner(caller, signer [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return ErrUnauthorized
	}
	return e.state.SignerPut(signer)
}

// RevokeSigner removes the identity from the signer set. Admin-only. Listings
// already placed under the signer's authorization are unaffected.
func (e *Engine) RevokeSigner(caller, signer [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return ErrUnauthorized
	}
	return e.state.SignerRemove(signer)
}
