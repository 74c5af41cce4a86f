package domain

// Identity is the verified claim set of a caller.
type Identity struct {
	Subject string
	Email   string
}
