package serve

import (
	"testing"

	"github.com/ValentinKolb/dLock/lib/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newTestCommand returns a command carrying the serve flags and the root's serializer flag
func newTestCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	t.Cleanup(viper.Reset)
	cmd := &cobra.Command{Use: "serve-test"}
	addFlags(cmd)
	cmd.PersistentFlags().String("serializer", "binary", "")
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	return cmd
}

func TestProcessConfig(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantErr    bool
		serializer string
	}{
		{"Defaults", nil, false, "binary"},
		{"JSONSerializer", []string{"--serializer=json"}, false, "json"},
		{"UnknownSerializer", []string{"--serializer=xml"}, true, ""},
		{"InvalidShards", []string{"--shards=100=redis"}, true, ""},
		{"TTLAboveWindow", []string{"--default-ttl=2m", "--window=1m"}, true, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			serveCmdConfig = &common.ServerConfig{}
			err := processConfig(newTestCommand(t, tc.args...), nil)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if serveCmdConfig.Serializer != tc.serializer {
				t.Errorf("expected serializer %q, got %q", tc.serializer, serveCmdConfig.Serializer)
			}
			if len(serveCmdConfig.Shards) != 1 || serveCmdConfig.Shards[0].ShardID != 100 {
				t.Errorf("unexpected shards %+v", serveCmdConfig.Shards)
			}
		})
	}
}
