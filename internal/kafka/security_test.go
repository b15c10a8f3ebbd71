package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

func TestConfigureSecurity(t *testing.T) {
	tests := []struct {
		name          string
		sec           SecurityConfig
		wantErr       bool
		wantSASL      bool
		wantTLS       bool
		wantMechanism sarama.SASLMechanism
	}{
		{name: "plaintext", sec: SecurityConfig{Protocol: "PLAINTEXT"}},
		{name: "empty protocol", sec: SecurityConfig{}},
		{name: "ssl", sec: SecurityConfig{Protocol: "SSL"}, wantTLS: true},
		{
			name:     "sasl plain",
			sec:      SecurityConfig{Protocol: "SASL_PLAINTEXT", SASLMechanism: "PLAIN", SASLUsername: "u", SASLPassword: "p"},
			wantSASL: true, wantMechanism: sarama.SASLTypePlaintext,
		},
		{
			name:     "scram sha256 over tls",
			sec:      SecurityConfig{Protocol: "SASL_SSL", SASLMechanism: "SCRAM-SHA-256", SASLUsername: "u", SASLPassword: "p"},
			wantSASL: true, wantTLS: true, wantMechanism: sarama.SASLTypeSCRAMSHA256,
		},
		{
			name:     "scram sha512",
			sec:      SecurityConfig{Protocol: "SASL_PLAINTEXT", SASLMechanism: "SCRAM-SHA-512", SASLUsername: "u", SASLPassword: "p"},
			wantSASL: true, wantMechanism: sarama.SASLTypeSCRAMSHA512,
		},
		{
			name:     "msk iam",
			sec:      SecurityConfig{Protocol: "SASL_SSL", SASLMechanism: "AWS_MSK_IAM", AWSRegion: "eu-west-1"},
			wantSASL: true, wantTLS: true, wantMechanism: sarama.SASLTypeOAuth,
		},
		{name: "unknown mechanism", sec: SecurityConfig{Protocol: "SASL_SSL", SASLMechanism: "GSSAPI"}, wantErr: true},
		{name: "unknown protocol", sec: SecurityConfig{Protocol: "QUIC"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := sarama.NewConfig()
			err := configureSecurity(config, tt.sec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("configureSecurity() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if config.Net.SASL.Enable != tt.wantSASL {
				t.Errorf("SASL.Enable = %v, want %v", config.Net.SASL.Enable, tt.wantSASL)
			}
			if config.Net.TLS.Enable != tt.wantTLS {
				t.Errorf("TLS.Enable = %v, want %v", config.Net.TLS.Enable, tt.wantTLS)
			}
			if tt.wantSASL && config.Net.SASL.Mechanism != tt.wantMechanism {
				t.Errorf("SASL.Mechanism = %v, want %v", config.Net.SASL.Mechanism, tt.wantMechanism)
			}
		})
	}
}

func TestConfigureSecurity_MSKRegion(t *testing.T) {
	tests := []struct {
		region string
		want   string
	}{
		{"eu-west-1", "eu-west-1"},
		{"", "us-east-1"},
	}

	for _, tt := range tests {
		config := sarama.NewConfig()
		sec := SecurityConfig{Protocol: "SASL_SSL", SASLMechanism: "AWS_MSK_IAM", AWSRegion: tt.region}
		if err := configureSecurity(config, sec); err != nil {
			t.Fatalf("configureSecurity() error = %v", err)
		}

		provider, ok := config.Net.SASL.TokenProvider.(*MSKAccessTokenProvider)
		if !ok {
			t.Fatalf("TokenProvider = %T, want *MSKAccessTokenProvider", config.Net.SASL.TokenProvider)
		}
		if provider.region != tt.want {
			t.Errorf("region = %q, want %q", provider.region, tt.want)
		}
	}
}

func TestOffsetInitial(t *testing.T) {
	tests := []struct {
		reset string
		want  int64
	}{
		{"earliest", sarama.OffsetOldest},
		{"latest", sarama.OffsetNewest},
		{"", sarama.OffsetNewest},
	}

	for _, tt := range tests {
		if got := offsetInitial(tt.reset); got != tt.want {
			t.Errorf("offsetInitial(%q) = %d, want %d", tt.reset, got, tt.want)
		}
	}
}

func TestRequiredAcks(t *testing.T) {
	tests := []struct {
		acks string
		want sarama.RequiredAcks
	}{
		{"all", sarama.WaitForAll},
		{"-1", sarama.WaitForAll},
		{"1", sarama.WaitForLocal},
		{"leader", sarama.WaitForLocal},
		{"0", sarama.NoResponse},
		{"", sarama.WaitForAll},
	}

	for _, tt := range tests {
		if got := requiredAcks(tt.acks); got != tt.want {
			t.Errorf("requiredAcks(%q) = %d, want %d", tt.acks, got, tt.want)
		}
	}
}

func TestXDGSCRAMClient_Conversation(t *testing.T) {
	tests := []struct {
		name   string
		hash   scram.HashGeneratorFcn
		client func() *XDGSCRAMClient
	}{
		{"sha256", scram.SHA256, func() *XDGSCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA256()} }},
		{"sha512", scram.SHA512, func() *XDGSCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA512()} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := tt.hash.NewClient("tracer", "pencil", "")
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			creds := ref.GetStoredCredentials(scram.KeyFactors{Salt: "QSXCR+Q6sek8bf92", Iters: 4096})

			server, err := tt.hash.NewServer(func(string) (scram.StoredCredentials, error) {
				return creds, nil
			})
			if err != nil {
				t.Fatalf("NewServer() error = %v", err)
			}
			conv := server.NewConversation()

			client := tt.client()
			if err := client.Begin("tracer", "pencil", ""); err != nil {
				t.Fatalf("Begin() error = %v", err)
			}

			msg, err := client.Step("")
			if err != nil {
				t.Fatalf("client first step error = %v", err)
			}
			for !client.Done() {
				challenge, err := conv.Step(msg)
				if err != nil {
					t.Fatalf("server step error = %v", err)
				}
				if msg, err = client.Step(challenge); err != nil {
					t.Fatalf("client step error = %v", err)
				}
			}

			if !conv.Valid() {
				t.Error("server did not authenticate the client")
			}
		})
	}
}
