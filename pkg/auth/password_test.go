package auth

import "testing"

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected opaque non-empty hash, got %q", hash)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
}

func TestHashPasswordIsSalted(t *testing.T) {
	a, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	b, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct hashes for the same password")
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected empty password to be rejected")
	}
}

func TestCheckPasswordEmptyStored(t *testing.T) {
	if CheckPassword("pw", "") {
		t.Fatalf("expected empty stored hash to fail")
	}
	if BurnCompare("pw") {
		t.Fatalf("burn compare must never succeed")
	}
}
