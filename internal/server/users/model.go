package users

// User is one row of the authentication table. Password always holds a
// bcrypt hash.
type User struct {
	ID          string
	Password    string
	Permissions string
}
