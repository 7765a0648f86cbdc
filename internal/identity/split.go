package identity

// SplitStore overlays dedicated token backends on top of a base store.
// Accounts and the audit log always come from Base; either token store may be
// swapped out (typically for Redis) while the rest stays relational.
type SplitStore struct {
	Base          Store
	Verifications VerificationTokenStore
	Refresh       RefreshTokenStore
}

var _ Store = SplitStore{}

func (s SplitStore) Accounts() AccountStore { return s.Base.Accounts() }

func (s SplitStore) VerificationTokens() VerificationTokenStore {
	if s.Verifications != nil {
		return s.Verifications
	}
	return s.Base.VerificationTokens()
}

func (s SplitStore) RefreshTokens() RefreshTokenStore {
	if s.Refresh != nil {
		return s.Refresh
	}
	return s.Base.RefreshTokens()
}

func (s SplitStore) Audit() AuditStore { return s.Base.Audit() }
