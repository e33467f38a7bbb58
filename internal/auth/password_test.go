package auth

import "testing"

func TestValidatePasswordComplexity(t *testing.T) {
	cases := []struct {
		name    string
		pw      string
		wantErr bool
	}{
		{"valid", "Sup3r!Secret", false},
		{"too short", "Sh0rt!", true},
		{"no upper", "lower3!case", true},
		{"no lower", "UPPER3!CASE", true},
		{"no digit", "NoDigits!Here", true},
		{"no special", "NoSpecial3Chars", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePasswordComplexity(tc.pw)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidatePasswordComplexity(%q) error = %v, wantErr %v", tc.pw, err, tc.wantErr)
			}
		})
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Sup3r!Secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !verifyPassword(hash, "Sup3r!Secret") {
		t.Fatal("expected matching password to verify")
	}
	if verifyPassword(hash, "wrong-password") {
		t.Fatal("expected mismatched password to fail verification")
	}
}
