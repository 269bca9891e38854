package validator

import "testing"

type contactForm struct {
	Phone string `validate:"omitempty,jpphone"`
}

func TestJPPhoneRule(t *testing.T) {
	v := New()
	if err := v.Struct(contactForm{Phone: "090-1234-5678"}); err != nil {
		t.Fatalf("expected valid phone, got %v", err)
	}
	if err := v.Struct(contactForm{}); err != nil {
		t.Fatalf("empty phone is optional, got %v", err)
	}
	if err := v.Struct(contactForm{Phone: "12"}); err == nil {
		t.Fatal("expected invalid phone to fail")
	}
}
