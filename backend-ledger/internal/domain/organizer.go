package domain

// OrganizerRegistry marks an identity as a registered organizer
type OrganizerRegistry struct {
	Organizer    Address `json:"organizer"`
	RegisteredAt int64   `json:"registered_at"`
}
