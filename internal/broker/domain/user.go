package domain

// User is the subset of the main application's user record the broker
// needs to mint tokens. It is resolved on demand and never stored.
type User struct {
	ID    string
	Email string
	Name  string
}
