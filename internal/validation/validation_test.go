package validation

import (
	"math"
	"testing"
)

func TestIsValidIP(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"192.168.1.1", true},
		{"203.0.113.255", true},
		{"::1", true},
		{"2001:db8::8a2e:370:7334", true},

		// Invalid cases
		{"256.1.1.1", false},
		{"192.168.1", false},
		{"not-an-ip", false},
		{"192.168.1.1:8080", false},
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidIP(tc.addr)
		if result != tc.valid {
			t.Errorf("IsValidIP(%q) = %v, want %v", tc.addr, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("email", "user@example.com"),
		ValidIP("ip", "203.0.113.10"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("email", ""),
		ValidIP("ip", "invalid"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestValidIP_EmptyIsSkipped(t *testing.T) {
	// Empty values are Required's job
	if err := ValidIP("ip", "")(); err != nil {
		t.Errorf("ValidIP on empty string returned %v, want nil", err)
	}
}

func TestOneOf(t *testing.T) {
	if err := OneOf("action", "READ", "READ", "WRITE")(); err != nil {
		t.Errorf("Expected READ to be accepted, got %v", err)
	}
	if err := OneOf("action", "TRUNCATE", "READ", "WRITE")(); err == nil {
		t.Error("Expected error for disallowed value")
	}
}

func TestPositiveAmount(t *testing.T) {
	tests := []struct {
		value float64
		valid bool
	}{
		{1.00, true},
		{0.50, true},
		{100_000, true},

		// Invalid
		{0, false},
		{-1.00, false},
		{math.NaN(), false},
	}

	for _, tc := range tests {
		err := PositiveAmount("amount", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("PositiveAmount(%v) valid=%v, want %v", tc.value, valid, tc.valid)
		}
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}

func TestValidationErrorsError(t *testing.T) {
	errs := ValidationErrors{{Field: "ip", Message: "must be a valid IPv4 or IPv6 address"}}
	if got := errs.Error(); got != "ip: must be a valid IPv4 or IPv6 address" {
		t.Errorf("Error() = %q", got)
	}
	if got := (ValidationErrors{}).Error(); got != "validation failed" {
		t.Errorf("empty Error() = %q", got)
	}
}
