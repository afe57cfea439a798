package types

// PushRegistration is the body of the ethereum service APN register and
// deregister calls
type PushRegistration struct {
	RegistrationID string `json:"registration_id"`
	Address        string `json:"address"`
}

func (r PushRegistration) Payload() map[string]interface{} {
	return map[string]interface{}{
		"registration_id": r.RegistrationID,
		"address":         r.Address,
	}
}

// UserRegistration is the signed body sent to create a profile
type UserRegistration struct {
	PaymentAddress string `json:"payment_address"`
	Username       string `json:"username,omitempty"`
	Name           string `json:"name,omitempty"`
}

// ErrorResponse is the error envelope returned by the Toshi services
type ErrorResponse struct {
	Errors []ServiceError `json:"errors"`
}

type ServiceError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// First returns the first error message, or "" when there is none
func (e *ErrorResponse) First() string {
	if e == nil || len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].Message
}

// Payload is the registration as a signable dictionary
func (r UserRegistration) Payload() map[string]interface{} {
	m := map[string]interface{}{"payment_address": r.PaymentAddress}
	if r.Username != "" {
		m["username"] = r.Username
	}
	if r.Name != "" {
		m["name"] = r.Name
	}
	return m
}
