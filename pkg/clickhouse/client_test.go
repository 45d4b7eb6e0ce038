package clickhouse

import (
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

func TestBuildOptions(t *testing.T) {
	tests := []struct {
		name     string
		opts     []ClientOption
		addr     string
		protocol clickhouse.Protocol
		maxExec  interface{}
	}{
		{
			name:     "native defaults",
			opts:     []ClientOption{WithHost("ch")},
			addr:     "ch:9000",
			protocol: clickhouse.Native,
		},
		{
			name: "http with execution cap",
			opts: []ClientOption{WithHost("ch"), WithPort(8123), WithHTTP(true),
				WithCredentials("u", "p"), WithDatabase("genesis"), WithMaxExecutionTime(30 * time.Second)},
			addr:     "ch:8123",
			protocol: clickhouse.HTTP,
			maxExec:  30,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultClientConfig()
			for _, o := range tt.opts {
				o(cfg)
			}
			got := buildOptions(cfg)
			if len(got.Addr) != 1 || got.Addr[0] != tt.addr {
				t.Errorf("addr = %v, want %s", got.Addr, tt.addr)
			}
			if got.Protocol != tt.protocol {
				t.Errorf("protocol = %v, want %v", got.Protocol, tt.protocol)
			}
			if got.Settings["max_execution_time"] != tt.maxExec {
				t.Errorf("max_execution_time = %v, want %v", got.Settings["max_execution_time"], tt.maxExec)
			}
		})
	}
}

func TestWithTimeoutsKeepsDefaultsForZero(t *testing.T) {
	cfg := defaultClientConfig()
	WithTimeouts(0, 3*time.Second)(cfg)
	if cfg.DialTimeout != 5*time.Second || cfg.ReadTimeout != 3*time.Second {
		t.Fatalf("timeouts = %v/%v", cfg.DialTimeout, cfg.ReadTimeout)
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without host")
	}
}
