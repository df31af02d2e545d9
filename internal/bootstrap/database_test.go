package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"slices"
	"strings"
	"testing"

	"github.com/target/fbdispatch/config"
	"github.com/target/fbdispatch/internal/testutil"
)

func TestConsumerLoops(t *testing.T) {
	tests := []struct {
		name     string
		services string
		workers  int
		coords   int
		want     int
	}{
		{name: "http only", services: "http", workers: 4, coords: 2, want: 0},
		{name: "one worker role", services: "checker", workers: 4, coords: 2, want: 4},
		{name: "worker roles add up", services: "distributor,checker,differ", workers: 3, coords: 2, want: 9},
		{name: "coordinator", services: "coordinator,sweeper", workers: 4, coords: 2, want: 2},
		{name: "unsanitized concurrency counts one", services: "checker,coordinator", want: 2},
		{name: "invalid services", services: "bogus", workers: 4, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.AppConfig{
				Services:    tt.services,
				Worker:      config.WorkerConfig{Concurrency: tt.workers},
				Coordinator: config.CoordinatorConfig{Concurrency: tt.coords},
			}
			if got := ConsumerLoops(cfg); got != tt.want {
				t.Errorf("ConsumerLoops() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPoolSize(t *testing.T) {
	tests := []struct {
		consumers int
		wantOpen  int
		wantIdle  int
	}{
		{consumers: -1, wantOpen: 4, wantIdle: 2},
		{consumers: 0, wantOpen: 4, wantIdle: 2},
		{consumers: 1, wantOpen: 5, wantIdle: 2},
		{consumers: 10, wantOpen: 14, wantIdle: 10},
	}

	for _, tt := range tests {
		maxOpen, maxIdle := PoolSize(tt.consumers)
		if maxOpen != tt.wantOpen || maxIdle != tt.wantIdle {
			t.Errorf("PoolSize(%d) = (%d, %d), want (%d, %d)",
				tt.consumers, maxOpen, maxIdle, tt.wantOpen, tt.wantIdle)
		}
		if maxIdle > maxOpen {
			t.Errorf("PoolSize(%d): idle %d exceeds open %d", tt.consumers, maxIdle, maxOpen)
		}
	}
}

func TestPostgresURLEscapesCredentials(t *testing.T) {
	raw := postgresURL(config.DBConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "svc",
		Password: "p@ss/word",
		Name:     "fbdispatch",
		SSLMode:  "require",
	})

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	if pw, _ := u.User.Password(); pw != "p@ss/word" {
		t.Errorf("password = %q", pw)
	}
	if u.Host != "db.internal:5433" || u.Path != "/fbdispatch" {
		t.Errorf("host/path = %q %q", u.Host, u.Path)
	}
	if got := u.Query().Get("sslmode"); got != "require" {
		t.Errorf("sslmode = %q", got)
	}
}

func TestRedisOptions(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.RedisConfig
		wantMode  string
		wantAddrs []string
		wantDB    int
		wantPass  string
		wantErr   string
	}{
		{
			name:      "direct host port",
			cfg:       config.RedisConfig{URI: "localhost:6379", DB: 3, Password: "secret"},
			wantMode:  "direct",
			wantAddrs: []string{"localhost:6379"},
			wantDB:    3,
			wantPass:  "secret",
		},
		{
			name:      "direct url carries db and password",
			cfg:       config.RedisConfig{URI: "redis://:fromurl@cache:6380/5", DB: 1, Password: "ignored"},
			wantMode:  "direct",
			wantAddrs: []string{"cache:6380"},
			wantDB:    5,
			wantPass:  "fromurl",
		},
		{
			name:    "direct without uri",
			cfg:     config.RedisConfig{URI: "  "},
			wantErr: "requires a URI",
		},
		{
			name:    "direct bad url",
			cfg:     config.RedisConfig{URI: "redis://cache:6379/notadb"},
			wantErr: "parse redis url",
		},
		{
			name: "sentinel",
			cfg: config.RedisConfig{
				UseSentinel:        true,
				SentinelNodes:      []string{" s1:26379 ", "", "s2:26379"},
				SentinelMasterName: "mymaster",
				DB:                 2,
			},
			wantMode:  "sentinel",
			wantAddrs: []string{"s1:26379", "s2:26379"},
			wantDB:    2,
		},
		{
			name:    "sentinel without nodes",
			cfg:     config.RedisConfig{UseSentinel: true, SentinelMasterName: "mymaster"},
			wantErr: "at least one sentinel node",
		},
		{
			name:    "sentinel without master",
			cfg:     config.RedisConfig{UseSentinel: true, SentinelNodes: []string{"s1:26379"}},
			wantErr: "master name",
		},
		{
			name:      "cluster nodes",
			cfg:       config.RedisConfig{UseCluster: true, ClusterNodes: []string{"n1:7000", "n2:7000"}, DB: 4},
			wantMode:  "cluster",
			wantAddrs: []string{"n1:7000", "n2:7000"},
			wantDB:    0,
		},
		{
			name:      "cluster falls back to uri",
			cfg:       config.RedisConfig{UseCluster: true, URI: "redis://user:pw@cfg-endpoint:6379"},
			wantMode:  "cluster",
			wantAddrs: []string{"cfg-endpoint:6379"},
			wantPass:  "pw",
		},
		{
			name:    "cluster without addresses",
			cfg:     config.RedisConfig{UseCluster: true},
			wantErr: "at least one address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, mode, err := redisOptions(tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("redisOptions() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("redisOptions() unexpected error: %v", err)
			}
			if mode != tt.wantMode {
				t.Errorf("mode = %q, want %q", mode, tt.wantMode)
			}
			if !slices.Equal(opts.Addrs, tt.wantAddrs) {
				t.Errorf("addrs = %v, want %v", opts.Addrs, tt.wantAddrs)
			}
			if opts.DB != tt.wantDB {
				t.Errorf("db = %d, want %d", opts.DB, tt.wantDB)
			}
			if opts.Password != tt.wantPass {
				t.Errorf("password = %q, want %q", opts.Password, tt.wantPass)
			}
			if tt.wantMode == "cluster" && !opts.IsClusterMode {
				t.Error("cluster mode not set")
			}
			if tt.wantMode == "sentinel" && opts.MasterName != tt.cfg.SentinelMasterName {
				t.Errorf("master = %q", opts.MasterName)
			}
		})
	}
}

func TestVerifySchema(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()

		if err := VerifySchema(ctx, db); err != nil {
			t.Fatalf("VerifySchema() on migrated store: %v", err)
		}
		if err := DocumentStoreCheck(db)(ctx); err != nil {
			t.Fatalf("DocumentStoreCheck() on migrated store: %v", err)
		}

		err := verifySchema(ctx, db, []schemaObject{
			{kind: "table", name: "family_tests"},
			{kind: "table", name: "family_tests_archive"},
			{kind: "function", name: "family_test_rollup(text)"},
		})
		if !errors.Is(err, ErrSchemaIncomplete) {
			t.Fatalf("verifySchema() error = %v, want ErrSchemaIncomplete", err)
		}
		for _, want := range []string{"table family_tests_archive", "function family_test_rollup(text)"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("error %q does not name %q", err, want)
			}
		}
		if strings.Contains(err.Error(), "table family_tests,") {
			t.Errorf("error %q names a present table", err)
		}
	})
}
