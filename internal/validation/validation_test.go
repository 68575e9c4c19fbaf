package validation

import (
	"errors"
	"testing"
)

func TestValidateAddr(t *testing.T) {
	valid := []string{":8090", "127.0.0.1:8090", "localhost:4455"}
	for _, addr := range valid {
		if err := ValidateAddr(addr); err != nil {
			t.Errorf("Expected %q to validate, got %v", addr, err)
		}
	}

	invalid := []string{"", "no-port", "host:notaport"}
	for _, addr := range invalid {
		if err := ValidateAddr(addr); !errors.Is(err, ErrInvalidAddr) {
			t.Errorf("Expected ErrInvalidAddr for %q, got %v", addr, err)
		}
	}
}

func TestValidateStringNonEmpty(t *testing.T) {
	if err := ValidateStringNonEmpty("x"); err != nil {
		t.Errorf("Expected non-empty string to pass, got %v", err)
	}
	if err := ValidateStringNonEmpty(""); !errors.Is(err, ErrEmptyString) {
		t.Errorf("Expected ErrEmptyString, got %v", err)
	}
}

func TestValidateRangeInt(t *testing.T) {
	if err := ValidateRangeInt(5, 1, 10); err != nil {
		t.Errorf("Expected in-range value to pass, got %v", err)
	}
	if err := ValidateRangeInt(0, 1, 10); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange, got %v", err)
	}
	if err := ValidateRangeInt(11, 1, 10); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange, got %v", err)
	}
}
