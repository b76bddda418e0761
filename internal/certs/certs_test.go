package certs

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"redelk/internal/executor"
	"redelk/internal/layout"
	"redelk/internal/prompt"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestSANsCounters(t *testing.T) {
	tests := []struct {
		name       string
		address    string
		additional []string
		want       []string
	}{
		{
			name:    "ip address",
			address: "10.0.0.5",
			want:    []string{"IP.1 = 10.0.0.5", "DNS.1 = localhost", "IP.2 = 127.0.0.1"},
		},
		{
			name:    "dns name",
			address: "redelk.example.com",
			want:    []string{"DNS.1 = redelk.example.com", "DNS.2 = localhost", "IP.1 = 127.0.0.1"},
		},
		{
			name:       "mixed additional",
			address:    "redelk.example.com",
			additional: []string{"10.0.0.5", "kibana.example.com", " ", "192.168.1.10"},
			want: []string{
				"DNS.1 = redelk.example.com",
				"IP.1 = 10.0.0.5",
				"DNS.2 = kibana.example.com",
				"IP.2 = 192.168.1.10",
				"DNS.3 = localhost",
				"IP.3 = 127.0.0.1",
			},
		},
		{
			name:       "localhost not duplicated",
			address:    "127.0.0.1",
			additional: []string{"LOCALHOST"},
			want:       []string{"IP.1 = 127.0.0.1", "DNS.1 = LOCALHOST"},
		},
		{
			name:    "ipv6",
			address: "fd00::5",
			want:    []string{"IP.1 = fd00::5", "DNS.1 = localhost", "IP.2 = 127.0.0.1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SANs(tt.address, tt.additional))
		})
	}
}

func TestRenderOpenSSLConfig(t *testing.T) {
	cnf := RenderOpenSSLConfig(Request{Address: "10.0.0.5"})
	for _, section := range []string{"[req]", "[req_distinguished_name]", "[v3_ca]", "[v3_req]", "[alt_names]"} {
		assert.Contains(t, cnf, section+"\n")
	}
	assert.Contains(t, cnf, "prompt = no")
	assert.Contains(t, cnf, "CN = 10.0.0.5")
	assert.Contains(t, cnf, "C = US")
	assert.Contains(t, cnf, "basicConstraints = CA:TRUE")
	assert.Contains(t, cnf, "extendedKeyUsage = serverAuth")
	assert.Contains(t, cnf, "subjectAltName = @alt_names")
	assert.True(t, strings.HasSuffix(cnf, "IP.2 = 127.0.0.1\n"))
}

func TestValidate(t *testing.T) {
	ok := Request{Address: "10.0.0.5"}.withDefaults()
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Address = ""
	require.Error(t, bad.Validate())

	bad = ok
	bad.Subject.Country = "USA"
	require.Error(t, bad.Validate())

	bad = ok
	bad.Subject.Org = "Red\nTeam"
	require.Error(t, bad.Validate())
}

func TestGenerateCommandOrder(t *testing.T) {
	l := layout.New(t.TempDir())
	// The fake runner does not produce files; seed the key the PKCS#8 step copies.
	require.NoError(t, os.MkdirAll(l.CertsDir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(l.CertsDir(), ServerKeyFile), []byte("KEY"), 0600))

	runner := &executor.FakeRunner{}
	g := &Generator{Runner: runner, Layout: l, Logger: quietLogger()}
	require.NoError(t, g.Generate(context.Background(), Request{Address: "10.0.0.5"}))

	var sub []string
	for _, c := range runner.Calls {
		assert.Equal(t, "openssl", c.Name)
		sub = append(sub, c.Args[0])
	}
	assert.Equal(t, []string{"genrsa", "req", "genrsa", "req", "x509", "pkcs8"}, sub)

	assert.Contains(t, runner.Lines()[1], "-x509 -days 3650")
	assert.Contains(t, runner.Lines()[1], "-extensions v3_ca")
	assert.Contains(t, runner.Lines()[4], "-CAcreateserial")
	assert.Contains(t, runner.Lines()[4], "-extensions v3_req")
	assert.Contains(t, runner.Lines()[5], "-topk8 -nocrypt")

	cnf, err := os.ReadFile(filepath.Join(l.CertsDir(), ConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(cnf), "IP.1 = 10.0.0.5")
	assert.FileExists(t, filepath.Join(l.CertsDir(), ServerPEMFile))
}

func TestGenerateStopsOnFailure(t *testing.T) {
	runner := (&executor.FakeRunner{}).Fail("openssl req -new -x509", 1, "unable to load config")
	g := &Generator{Runner: runner, Layout: layout.New(t.TempDir()), Logger: quietLogger()}

	err := g.Generate(context.Background(), Request{Address: "10.0.0.5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create CA certificate")
	assert.Contains(t, err.Error(), "unable to load config")
	assert.Len(t, runner.Calls, 2)
}

func TestDistribute(t *testing.T) {
	l := layout.New(t.TempDir())
	require.NoError(t, os.MkdirAll(l.CertsDir(), 0755))
	for _, name := range []string{CACertFile, CAKeyFile, ServerCrtFile, ServerKeyFile} {
		require.NoError(t, os.WriteFile(filepath.Join(l.CertsDir(), name), []byte(name), 0600))
	}
	g := &Generator{Layout: l, Logger: quietLogger()}
	assert.True(t, g.Exists())

	warnings := g.Distribute()
	assert.Empty(t, warnings)
	assert.FileExists(t, filepath.Join(l.CertsInputsDir(), ServerCrtFile))
	assert.FileExists(t, filepath.Join(l.CertsInputsDir(), CAKeyFile))
	assert.FileExists(t, filepath.Join(l.C2FilebeatDir(), CACertFile))
	assert.FileExists(t, filepath.Join(l.RedirFilebeatDir(), CACertFile))
	assert.NoFileExists(t, filepath.Join(l.C2FilebeatDir(), CAKeyFile))
}

func TestDistributeMissingCAWarns(t *testing.T) {
	g := &Generator{Layout: layout.New(t.TempDir()), Logger: quietLogger()}
	assert.False(t, g.Exists())
	warnings := g.Distribute()
	assert.NotEmpty(t, warnings)
}

func TestGenerateWithOpenSSL(t *testing.T) {
	if !executor.Available("openssl") {
		t.Skip("openssl not installed")
	}
	l := layout.New(t.TempDir())
	g := &Generator{Runner: executor.NewLocalRunner(quietLogger(), false), Layout: l, Logger: quietLogger()}
	require.NoError(t, g.Generate(context.Background(), Request{Address: "10.0.0.5", Additional: []string{"redelk.local"}}))

	caPEM, err := os.ReadFile(g.CACert())
	require.NoError(t, err)
	srvPEM, err := os.ReadFile(filepath.Join(l.CertsDir(), ServerCrtFile))
	require.NoError(t, err)

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(caPEM))
	block, _ := pem.Decode(srvPEM)
	require.NotNil(t, block)
	srv, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	_, err = srv.Verify(x509.VerifyOptions{Roots: pool, DNSName: "redelk.local"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", srv.Subject.CommonName)
	assert.Contains(t, srv.DNSNames, "localhost")

	key, err := os.ReadFile(filepath.Join(l.CertsDir(), ServerKeyFile))
	require.NoError(t, err)
	assert.Contains(t, string(key), "BEGIN PRIVATE KEY")
}

func TestWizard(t *testing.T) {
	input := "redelk.example.com\n\n\n\nAcme\n\n\ny\n10.0.0.5, kibana.local\n"
	pr := prompt.New(strings.NewReader(input), io.Discard, true)

	r, err := Wizard(context.Background(), pr, Request{})
	require.NoError(t, err)
	assert.Equal(t, "redelk.example.com", r.Address)
	assert.Equal(t, "US", r.Subject.Country)
	assert.Equal(t, "Acme", r.Subject.Org)
	assert.Equal(t, []string{"10.0.0.5", "kibana.local"}, r.Additional)
}
