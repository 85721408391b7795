package config

import "testing"

func validBase() Settings {
	s := Defaults()
	s.Name = "test-listener"
	s.TCPPort = 3333
	s.PoolAddress = []string{"pool.example.com:8008"}
	s.Share = PureProxy
	return s
}

func TestCheckValidPureProxy(t *testing.T) {
	s := validBase()
	if err := s.Check(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckRequiresName(t *testing.T) {
	s := validBase()
	s.Name = ""
	if err := s.Check(); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestCheckRequiresAtLeastOnePort(t *testing.T) {
	s := validBase()
	s.TCPPort = 0
	if err := s.Check(); err == nil {
		t.Fatal("expected error for no ports configured")
	}
}

func TestCheckRequiresPoolAddress(t *testing.T) {
	s := validBase()
	s.PoolAddress = nil
	if err := s.Check(); err == nil {
		t.Fatal("expected error for missing pool_address")
	}
}

func TestCheckSkimRequiresShareRateAndDevPool(t *testing.T) {
	s := validBase()
	s.Share = Skim
	if err := s.Check(); err == nil {
		t.Fatal("expected error for skim mode without share_rate/dev pool")
	}

	s.ShareRate = 10
	if err := s.Check(); err == nil {
		t.Fatal("expected error for skim mode without share_alg_pool_address")
	}

	s.ShareAlgPoolAddress = []string{"dev.example.com:8008"}
	if err := s.Check(); err == nil {
		t.Fatal("expected error for skim mode without share_wallet")
	}

	s.ShareWallet = "0xdeadbeef"
	if err := s.Check(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckUnifiedWalletRequiresWallet(t *testing.T) {
	s := validBase()
	s.Share = UnifiedWallet
	s.ShareRate = 50
	if err := s.Check(); err == nil {
		t.Fatal("expected error for unified_wallet without unified_wallet address")
	}

	s.UnifiedWallet = "0xabc123"
	if err := s.Check(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckStrictTLSRequiresP12Path(t *testing.T) {
	s := validBase()
	s.Strict = true
	s.SSLPort = 8443
	if err := s.Check(); err == nil {
		t.Fatal("expected error for strict_tls without p12_path")
	}

	s.P12Path = "/etc/mining-proxy/identity.p12"
	if err := s.Check(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestShareModeString(t *testing.T) {
	cases := map[ShareMode]string{
		PureProxy:     "pure_proxy",
		Skim:          "skim",
		UnifiedWallet: "unified_wallet",
	}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Fatalf("mode %d: want %q, got %q", mode, want, got)
		}
	}
}
