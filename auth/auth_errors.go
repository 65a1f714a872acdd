package auth

import "errors"

var (
	MissingCredentialsErr = errors.New("email and password are required")
	NoUserFetcherErr      = errors.New("no user fetcher configured")
)
