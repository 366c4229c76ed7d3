package domain

// Contract maps a tradable symbol name to the venue's contract identifier.
type Contract struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}
