package federation

import "testing"

func TestValidatePeerURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https domain", "https://peer.example.com", false},
		{"valid with trailing slash", "https://peer.example.com/", false},
		{"empty", "", true},
		{"http scheme rejected", "http://peer.example.com", true},
		{"path rejected", "https://peer.example.com/mrs", true},
		{"query rejected", "https://peer.example.com?x=1", true},
		{"fragment rejected", "https://peer.example.com#frag", true},
		{"localhost rejected", "https://localhost", true},
		{"loopback ip rejected", "https://127.0.0.1", true},
		{"loopback ipv6 rejected", "https://[::1]", true},
		{"missing host", "https://", true},
		{"invalid domain shape", "https://not_a_domain", true},
		{"with port", "https://peer.example.com:8443", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePeerURL(tc.url)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidatePeerURL(%q) error = %v, wantErr %v", tc.url, err, tc.wantErr)
			}
		})
	}
}
