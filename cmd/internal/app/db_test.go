package app

import "testing"

func TestPoolConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		cfg        Config
		wantApp    string
		wantSchema string
		wantMax    int32
		wantMin    int32
	}{
		{
			name:       "defaults",
			cfg:        Config{DatabaseURL: "postgres://u:p@localhost:5432/portal", DBSchema: "portal", DBMaxConns: 10},
			wantApp:    "portal",
			wantSchema: "portal",
			wantMax:    10,
		},
		{
			name:       "url_application_name_wins",
			cfg:        Config{DatabaseURL: "postgres://u:p@localhost:5432/portal?application_name=reporting", DBSchema: "portal_test", DBMaxConns: 4, DBMinConns: 2},
			wantApp:    "reporting",
			wantSchema: "portal_test",
			wantMax:    4,
			wantMin:    2,
		},
		{
			name:    "min_above_max_ignored",
			cfg:     Config{DatabaseURL: "postgres://u:p@localhost:5432/portal", DBMaxConns: 2, DBMinConns: 5},
			wantApp: "portal",
			wantMax: 2,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			pcfg, err := poolConfig(tc.cfg)
			if err != nil {
				t.Fatalf("poolConfig: %v", err)
			}
			rp := pcfg.ConnConfig.RuntimeParams
			if got := rp["application_name"]; got != tc.wantApp {
				t.Fatalf("application_name: got %q want %q", got, tc.wantApp)
			}
			if got := rp["search_path"]; got != tc.wantSchema {
				t.Fatalf("search_path: got %q want %q", got, tc.wantSchema)
			}
			if pcfg.MaxConns != tc.wantMax {
				t.Fatalf("max conns: got %d want %d", pcfg.MaxConns, tc.wantMax)
			}
			if pcfg.MinConns != tc.wantMin {
				t.Fatalf("min conns: got %d want %d", pcfg.MinConns, tc.wantMin)
			}
		})
	}
}

func TestPoolConfig_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := poolConfig(Config{DatabaseURL: "postgres://%zz"}); err == nil {
		t.Fatalf("expected parse error")
	}
}
