package dto

// AirdropRequest represents an operator funding request
type AirdropRequest struct {
	Address  string `json:"address" binding:"required"`
	Lamports uint64 `json:"lamports" binding:"required"`
}

// Validate validates the AirdropRequest
func (r *AirdropRequest) Validate() (bool, string) {
	if r.Address == "" {
		return false, "Address is required"
	}
	if r.Lamports == 0 {
		return false, "Lamports must be greater than zero"
	}
	return true, ""
}

// HealthResponse reports service liveness and the journal head
type HealthResponse struct {
	Status   string `json:"status"`
	Sequence uint64 `json:"sequence"`
	Head     string `json:"head"`
}
