package app

// DomainError is a business-rule failure that carries its own HTTP mapping.
// mapError unpacks it into the error envelope; any other error becomes a
// generic 500 so internals never leak to merchants.
type DomainError struct {
	Code    string
	Message string
	Status  int
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// domainError keeps call sites to one line; the Code values double as the
// machine-readable field of the JSON error envelope.
func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
