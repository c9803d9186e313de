package leash

import "testing"

func TestDefaultConfigDeniesNetworkByDefault(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.Network.AllowedDomains) != 0 {
		t.Errorf("DefaultConfig().Network.AllowedDomains = %v, want empty", cfg.Network.AllowedDomains)
	}
	if cfg.Tier != TierDefault {
		t.Errorf("DefaultConfig().Tier = %v, want TierDefault", cfg.Tier)
	}
}

func TestTierStringNames(t *testing.T) {
	tests := []struct {
		tier Tier
		want string
	}{
		{TierStrict, "strict"},
		{TierDefault, "default"},
		{TierPermissive, "permissive"},
	}
	for _, tt := range tests {
		if got := tt.tier.String(); got != tt.want {
			t.Errorf("Tier(%d).String() = %q, want %q", tt.tier, got, tt.want)
		}
	}
}
