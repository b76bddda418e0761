// Package secrets generates and persists the credentials of a RedELK
// server install.
package secrets

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"

	"redelk/internal/layout"

	"golang.org/x/crypto/bcrypt"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultLength is the length of generated passwords.
const DefaultLength = 32

// Credential keys, also used as .env variable names.
const (
	ElasticPassword    = "ELASTIC_PASSWORD"
	KibanaSystem       = "KIBANA_SYSTEM_PASSWORD"
	LogstashPassword   = "LOGSTASH_ELASTIC_PASSWORD"
	OperatorPassword   = "REDELK_OPERATOR_PASSWORD"
	Neo4jPassword      = "NEO4J_PASSWORD"
	PostgresPassword   = "BLOODHOUND_POSTGRES_PASSWORD"
	KibanaEncryptedKey = "KIBANA_ENCRYPTION_KEY"
)

// Fixed user names that go with the generated passwords.
const (
	LogstashUser = "redelk_ingest"
	OperatorUser = "redelk"
)

// Credential describes one generated secret.
type Credential struct {
	Key         string
	Description string
	Length      int
}

// Manifest lists every credential a server install needs, in file order.
var Manifest = []Credential{
	{ElasticPassword, "elastic superuser", DefaultLength},
	{KibanaSystem, "kibana_system service user", DefaultLength},
	{LogstashPassword, "Logstash ingest user " + LogstashUser, DefaultLength},
	{OperatorPassword, "Kibana operator login " + OperatorUser, 24},
	{Neo4jPassword, "BloodHound Neo4j", DefaultLength},
	{PostgresPassword, "BloodHound PostgreSQL", DefaultLength},
	{KibanaEncryptedKey, "Kibana saved objects encryption key", 48},
}

// Generate returns an alphanumeric password of length n.
func Generate(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid password length %d", n)
	}
	size := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

// Passwords maps credential keys to values.
type Passwords map[string]string

// Get returns the value for key or an empty string.
func (p Passwords) Get(key string) string {
	return p[key]
}

// Value returns the value for key, or def when it is unset.
func (p Passwords) Value(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// LoadOrCreate reads the password file at path, generates every manifest
// entry that is missing and writes the file back when anything changed.
// Existing values are never rotated.
func LoadOrCreate(path string) (Passwords, bool, error) {
	p, err := Load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	if p == nil {
		p = Passwords{}
	}

	created := false
	for _, c := range Manifest {
		if p[c.Key] != "" {
			continue
		}
		v, err := Generate(c.Length)
		if err != nil {
			return nil, false, fmt.Errorf("generate %s: %w", c.Key, err)
		}
		p[c.Key] = v
		created = true
	}
	if created {
		if err := p.Save(path); err != nil {
			return nil, false, err
		}
	}
	return p, created, nil
}

// Load parses a key="value" password file.
func Load(path string) (Passwords, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open password file: %w", err)
	}
	defer f.Close()

	p := Passwords{}
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, raw, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected key=\"value\"", path, n)
		}
		val := strings.TrimSpace(raw)
		if unq, err := strconv.Unquote(val); err == nil {
			val = unq
		}
		p[strings.TrimSpace(key)] = val
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read password file: %w", err)
	}
	return p, nil
}

// Save writes the passwords with mode 0600. Manifest entries come first,
// in manifest order, followed by any extra keys sorted by name.
func (p Passwords) Save(path string) error {
	var b strings.Builder
	b.WriteString("# RedELK generated credentials. Keep this file private.\n")
	done := make(map[string]bool)
	for _, c := range Manifest {
		if v, ok := p[c.Key]; ok {
			fmt.Fprintf(&b, "# %s\n%s=%q\n", c.Description, c.Key, v)
			done[c.Key] = true
		}
	}
	var extra []string
	for k := range p {
		if !done[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		fmt.Fprintf(&b, "%s=%q\n", k, p[k])
	}
	if err := layout.WriteFileAtomic(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("write password file: %w", err)
	}
	return nil
}

// WriteHtpasswd writes a single bcrypt entry for nginx basic auth.
func WriteHtpasswd(path, user, password string) error {
	if user == "" || strings.ContainsAny(user, ":\n") {
		return fmt.Errorf("invalid htpasswd user %q", user)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	line := user + ":" + string(hash) + "\n"
	if err := layout.WriteFileAtomic(path, []byte(line), 0640); err != nil {
		return fmt.Errorf("write htpasswd: %w", err)
	}
	return nil
}
