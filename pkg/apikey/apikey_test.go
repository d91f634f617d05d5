package apikey

import "testing"

func TestGenerateAndVerify(t *testing.T) {
	key, hash, err := GenerateKey(ServicePrefix, "pepper")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !ValidateKeyFormat(key, ServicePrefix) {
		t.Errorf("key %q does not carry prefix %q", key, ServicePrefix)
	}
	if len(key) != len(ServicePrefix)+1+48 {
		t.Errorf("unexpected key length %d", len(key))
	}

	tests := []struct {
		name   string
		key    string
		secret string
		hashes []string
		want   bool
	}{
		{"match", key, "pepper", []string{"other", hash}, true},
		{"wrong secret", key, "salt", []string{hash}, false},
		{"wrong key", key + "x", "pepper", []string{hash}, false},
		{"empty key", "", "pepper", []string{hash}, false},
		{"no hashes", key, "pepper", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.key, tt.secret, tt.hashes); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}
