package password

import "testing"

func BenchmarkHash(b *testing.B) {
	for _, bc := range []struct {
		name string
		cfg  Config
	}{
		{name: "default", cfg: DefaultConfig()},
		{name: "cheap", cfg: Cheap()},
	} {
		b.Run(bc.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := bc.cfg.Hash("secret1"); err != nil {
					b.Fatalf("Hash error: %v", err)
				}
			}
		})
	}
}

func BenchmarkVerify_Default(b *testing.B) {
	cfg := DefaultConfig()
	h, err := cfg.Hash("secret1")
	if err != nil {
		b.Fatalf("Hash error: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ok, err := cfg.Verify(h, "secret1")
		if err != nil || !ok {
			b.Fatalf("Verify failed: ok=%v err=%v", ok, err)
		}
	}
}
