// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

// ExplicitString is a string option that remembers whether the user gave it,
// either on the command line or in the config file.  Options such as the
// Esplora URL are only valid with some backends, and a default value must not
// trip that check while the same value typed by the user must.
type ExplicitString struct {
	Value string
	set   bool
}

// NewExplicitString returns an option holding defaultValue that is not
// explicitly set.
func NewExplicitString(defaultValue string) *ExplicitString {
	return &ExplicitString{Value: defaultValue}
}

// ExplicitlySet reports whether the value was parsed from user input.  A nil
// option was never set.
func (e *ExplicitString) ExplicitlySet() bool {
	return e != nil && e.set
}

// String returns the current value.
func (e *ExplicitString) String() string {
	if e == nil {
		return ""
	}
	return e.Value
}

// MarshalFlag implements the flags.Marshaler interface.
func (e *ExplicitString) MarshalFlag() (string, error) {
	return e.String(), nil
}

// UnmarshalFlag implements the flags.Unmarshaler interface and marks the
// option as explicitly set, even when value equals the default.
func (e *ExplicitString) UnmarshalFlag(value string) error {
	e.Value = value
	e.set = true

	return nil
}
