package auth

// Principal is the resolved identity a request acts as. UserID 0 with
// Anonymous set means no identity could be established; audit records for
// such requests are attributed to user 0.
type Principal struct {
	UserID    int64
	Username  string
	Email     string
	Anonymous bool
}

func Anonymous() Principal {
	return Principal{Anonymous: true}
}
