package memutils

// Validatable is used by DebugValidate to act upon every type with a Validate method
type Validatable interface {
	Validate() error
}

// DebugValidate calls Validate on the provided object and panics if it returns an error.
// Nothing happens unless enabled is true, which lets callers wire it to a configuration switch.
func DebugValidate(enabled bool, validatable Validatable) {
	if !enabled {
		return
	}

	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}
