package apierror

// Field error codes used across the module.
const (
	CodeRequired       = "required"
	CodeInvalidInteger = "invalid_integer"
	CodeOutOfRange     = "out_of_range"
	CodeUnknownField   = "unknown_field"
	CodeDuplicateField = "duplicate_field"
)

// FieldError describes one violated constraint on an input field.
type FieldError struct {
	Field         string `json:"field"`
	Message       string `json:"message"`
	Code          string `json:"code"`
	RejectedValue any    `json:"rejectedValue,omitempty"`
}

// Collector accumulates field errors in the order they are found so a client
// sees every violation in one response.
type Collector struct {
	fields []FieldError
}

func (c *Collector) Add(field, code, message string, rejected any) {
	c.fields = append(c.fields, FieldError{
		Field:         field,
		Message:       message,
		Code:          code,
		RejectedValue: rejected,
	})
}

// Merge appends the field errors carried by err, if it is a validation error.
// It reports whether err was absorbed.
func (c *Collector) Merge(err error) bool {
	apiErr := From(err)
	if apiErr == nil || apiErr.Kind != KindValidation {
		return false
	}
	c.fields = append(c.fields, apiErr.FieldErrors...)
	return true
}

func (c *Collector) Len() int {
	return len(c.fields)
}

// Err returns nil when nothing was collected, otherwise a validation error.
func (c *Collector) Err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return NewValidation(c.fields...)
}
