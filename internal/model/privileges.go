package model

// Privileges is the bitmask carried on every Session and persisted by the
// UserStore. Bits mirror the ones a bancho-style client expects to see
// echoed back in user_panel/user_stats packets.
type Privileges uint32

const (
	UserPublic Privileges = 1 << iota
	UserNormal
	UserDonor
	UserAdmin
	UserModerator
	UserWiki
	UserSupporter
	UserPremium
	UserAlumni
	UserTournamentStaff
	UserNominator
	UserLocked
	UserPendingVerification
	UserRestricted
	UserBAT
)

func (p Privileges) Has(bit Privileges) bool { return p&bit != 0 }

// IsStaff mirrors the site's notion of a staff member: anyone who can
// moderate, administrate, or curate beatmaps.
func (p Privileges) IsStaff() bool {
	return p.Has(UserAdmin) || p.Has(UserModerator) || p.Has(UserBAT) || p.Has(UserWiki)
}

// IsRestricted mirrors I-level "visible on the site but invisible to other
// players on the server".
func (p Privileges) IsRestricted() bool {
	return p.Has(UserRestricted) || !p.Has(UserPublic)
}
