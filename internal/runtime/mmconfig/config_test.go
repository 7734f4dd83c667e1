package mmconfig

import "testing"

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in       string
		wantHost string
		wantPort string
		wantErr  bool
	}{
		{"localhost:9000", "localhost", "9000", false},
		{"[::1]:9000", "::1", "9000", false},
		{"", "", "", true},
		{"missing-port", "", "", true},
		{"host:", "", "", true},
		{"host:notaport", "", "", true},
	}

	for _, c := range cases {
		host, port, err := ParseEndpoint(c.in)

		if c.wantErr {
			if err == nil {
				t.Errorf("ParseEndpoint(%q): expected error, got host=%q port=%q", c.in, host, port)
			}

			continue
		}

		if err != nil {
			t.Errorf("ParseEndpoint(%q): unexpected error %v", c.in, err)
			continue
		}

		if host != c.wantHost || port != c.wantPort {
			t.Errorf("ParseEndpoint(%q) = (%q, %q), want (%q, %q)", c.in, host, port, c.wantHost, c.wantPort)
		}
	}
}

func TestInitRemoteMissingServer(t *testing.T) {
	t.Setenv(EnvServer, "")
	t.Setenv(EnvPSK, "")

	// InitRemote memoizes via sync.Once package-wide; no other test in this
	// package calls it, so its first call here sees the cleared environment.
	if _, err := InitRemote(); err == nil {
		t.Fatalf("InitRemote with %s unset: expected error", EnvServer)
	}

	if _, _, err := ParseEndpoint(""); err == nil {
		t.Fatalf("expected malformed-endpoint error for empty string")
	}
}
