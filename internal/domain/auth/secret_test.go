package auth

import "testing"

func TestHashSecretArgon2id_RoundTrips(t *testing.T) {
	hash, err := HashSecretArgon2id("s3cr3t-token")
	if err != nil {
		t.Fatalf("HashSecretArgon2id() error: %v", err)
	}

	ok, err := VerifySecret("s3cr3t-token", hash)
	if err != nil {
		t.Fatalf("VerifySecret() error: %v", err)
	}
	if !ok {
		t.Error("VerifySecret() = false for the correct secret")
	}

	ok, err = VerifySecret("wrong-token", hash)
	if err != nil {
		t.Fatalf("VerifySecret() error: %v", err)
	}
	if ok {
		t.Error("VerifySecret() = true for the wrong secret")
	}
}

func TestVerifySecret_SHA256Hex(t *testing.T) {
	hash := HashKey("legacy-bearer-token")

	ok, err := VerifySecret("legacy-bearer-token", hash)
	if err != nil {
		t.Fatalf("VerifySecret() error: %v", err)
	}
	if !ok {
		t.Error("VerifySecret() = false for the correct legacy token")
	}

	ok, _ = VerifySecret("wrong-token", hash)
	if ok {
		t.Error("VerifySecret() = true for the wrong legacy token")
	}
}

func TestVerifySecret_SHA256PrefixedForm(t *testing.T) {
	hash := "sha256:" + HashKey("prefixed-token")
	ok, err := VerifySecret("prefixed-token", hash)
	if err != nil {
		t.Fatalf("VerifySecret() error: %v", err)
	}
	if !ok {
		t.Error("VerifySecret() = false for sha256:-prefixed hash")
	}
}

func TestVerifySecret_UnknownHashType(t *testing.T) {
	_, err := VerifySecret("anything", "not-a-recognized-hash-format!!")
	if err != ErrUnknownHashType {
		t.Errorf("VerifySecret() error = %v, want ErrUnknownHashType", err)
	}
}

func TestDetectHashType(t *testing.T) {
	cases := []struct {
		hash string
		want string
	}{
		{"$argon2id$v=19$m=47104,t=1,p=1$salt$hash", "argon2id"},
		{"sha256:" + HashKey("x"), "sha256"},
		{HashKey("x"), "sha256"},
		{"garbage", "unknown"},
	}
	for _, c := range cases {
		if got := DetectHashType(c.hash); got != c.want {
			t.Errorf("DetectHashType(%q) = %q, want %q", c.hash, got, c.want)
		}
	}
}

func TestSafeArgon2idCompare_MalformedHashDoesNotPanic(t *testing.T) {
	_, err := VerifySecret("x", "$argon2id$v=19$m=0,t=0,p=0$salt$hash")
	if err == nil {
		t.Error("expected an error for a malformed argon2id hash, got nil")
	}
}
